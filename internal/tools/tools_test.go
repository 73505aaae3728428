package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/pkg/models"
)

type fixture struct {
	svc *domain.MemoryService
	reg *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := domain.NewMemoryService()
	reg := NewRegistry()
	if err := RegisterDefaults(reg, svc.UseCases()); err != nil {
		t.Fatalf("RegisterDefaults() error = %v", err)
	}
	return &fixture{svc: svc, reg: reg}
}

func (f *fixture) call(t *testing.T, caller Caller, name string, args any) models.ToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	return f.reg.Execute(context.Background(), name, raw, caller)
}

func (f *fixture) mustOK(t *testing.T, caller Caller, name string, args any) models.ToolResult {
	t.Helper()
	res := f.call(t, caller, name, args)
	if !res.OK {
		t.Fatalf("%s(%v) failed: %+v", name, args, res)
	}
	return res
}

func payloadID(t *testing.T, res models.ToolResult) int64 {
	t.Helper()
	id, ok := res.Payload["id"].(int64)
	if !ok {
		t.Fatalf("payload id = %#v", res.Payload["id"])
	}
	return id
}

func TestCatalogueIsComplete(t *testing.T) {
	f := newFixture(t)
	want := []string{
		"completeTodo", "createGroup", "createTodo", "createTodoMessage", "deleteGroup",
		"deleteTodo", "deleteTodoMessage", "leaveGroup", "listFriends", "listGroups",
		"listTodoMessages", "listTodos", "moveTodo", "removeGroupMember", "sendGroupMessage",
		"updateGroup", "updateTodo", "updateTodoMessage",
	}
	defs := f.reg.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("got %d tools, want %d", len(defs), len(want))
	}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("tool %d = %s, want %s", i, def.Name, want[i])
		}
	}
	for _, name := range []string{"deleteTodo", "deleteGroup", "leaveGroup", "removeGroupMember", "deleteTodoMessage"} {
		tool, _ := f.reg.Get(name)
		if !tool.Sensitive() {
			t.Errorf("%s should be sensitive", name)
		}
	}
}

func TestCreateTodoInGroupDefaultsToCurrentGroup(t *testing.T) {
	f := newFixture(t)
	owner := Caller{UserID: "alice"}
	g := f.mustOK(t, owner, "createGroup", map[string]any{"name": "Jurídico", "members": []string{"bob"}})
	groupID := payloadID(t, g)
	if g.Action == nil || g.Action.Type != models.ActionGroupCreated {
		t.Fatalf("action = %+v", g.Action)
	}

	inGroup := Caller{UserID: "bob", GroupID: groupID}
	res := f.mustOK(t, inGroup, "createTodo", map[string]any{"title": "Revisar contrato"})
	if res.Action == nil || res.Action.Type != models.ActionTaskCreated || res.Action.GroupID != groupID {
		t.Fatalf("action = %+v", res.Action)
	}

	personal := f.mustOK(t, inGroup, "createTodo", map[string]any{"title": "Comprar pão", "personal": true})
	if personal.Action.GroupID != 0 {
		t.Errorf("personal task got group %d", personal.Action.GroupID)
	}

	list := f.mustOK(t, owner, "listTodos", map[string]any{"groupName": "jurídico"})
	if list.Payload["count"] != 1 {
		t.Errorf("group list count = %v, want 1", list.Payload["count"])
	}
}

func TestTaskAmbiguityReturnsCandidates(t *testing.T) {
	f := newFixture(t)
	alice := Caller{UserID: "alice"}
	g := f.mustOK(t, alice, "createGroup", map[string]any{"name": "Casa"})
	groupID := payloadID(t, g)
	f.mustOK(t, alice, "createTodo", map[string]any{"title": "Pagar conta"})
	f.mustOK(t, Caller{UserID: "alice", GroupID: groupID}, "createTodo", map[string]any{"title": "Pagar conta"})

	res := f.call(t, alice, "completeTodo", map[string]any{"title": "pagar conta"})
	if !res.IsAmbiguous() {
		t.Fatalf("completeTodo = %+v, want candidates", res)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	labels := map[string]bool{}
	for _, c := range res.Candidates {
		labels[c.Label()] = true
	}
	if !labels["Pagar conta (Casa)"] {
		t.Errorf("candidate labels = %v, want one naming the group", labels)
	}

	// Inside the group the local task wins.
	res = f.mustOK(t, Caller{UserID: "alice", GroupID: groupID}, "completeTodo", map[string]any{"title": "pagar conta"})
	if res.Action.Type != models.ActionTaskCompleted || res.Action.GroupID != groupID {
		t.Errorf("action = %+v", res.Action)
	}
}

func TestExactTitleBeatsPartialMatch(t *testing.T) {
	f := newFixture(t)
	alice := Caller{UserID: "alice"}
	f.mustOK(t, alice, "createTodo", map[string]any{"title": "Relatório"})
	f.mustOK(t, alice, "createTodo", map[string]any{"title": "Relatório final"})

	res := f.mustOK(t, alice, "updateTodo", map[string]any{"title": "relatório", "newTitle": "Relatório v2"})
	if res.Payload["title"] != "Relatório v2" {
		t.Errorf("title = %v", res.Payload["title"])
	}
}

func TestAuthorizationIsInheritedFromUseCases(t *testing.T) {
	f := newFixture(t)
	alice := Caller{UserID: "alice"}
	bob := Caller{UserID: "bob"}
	task := f.mustOK(t, alice, "createTodo", map[string]any{"title": "Segredo"})
	taskID := payloadID(t, task)

	res := f.call(t, bob, "completeTodo", map[string]any{"id": taskID})
	if res.OK || res.Kind != models.KindNotFound {
		t.Errorf("stranger completeTodo = %+v, want not_found", res)
	}
	if res.ErrorID == "" {
		t.Error("failures carry an error id")
	}

	g := f.mustOK(t, alice, "createGroup", map[string]any{"name": "Time", "members": []string{"bob"}})
	res = f.call(t, bob, "deleteGroup", map[string]any{"groupId": payloadID(t, g)})
	if res.OK || res.Kind != models.KindAuthorization {
		t.Errorf("member deleteGroup = %+v, want authorization", res)
	}

	res = f.call(t, alice, "createGroup", map[string]any{"name": "time"})
	if res.OK || res.Kind != models.KindValidation {
		t.Errorf("duplicate group = %+v, want validation", res)
	}
}

func TestMoveAndDeleteTodo(t *testing.T) {
	f := newFixture(t)
	alice := Caller{UserID: "alice"}
	g := f.mustOK(t, alice, "createGroup", map[string]any{"name": "Obra"})
	groupID := payloadID(t, g)
	task := f.mustOK(t, alice, "createTodo", map[string]any{"title": "Comprar tinta", "dueDate": "2026-03-01"})
	if task.Payload["dueDate"] != "2026-03-01" {
		t.Errorf("dueDate = %v", task.Payload["dueDate"])
	}

	res := f.call(t, alice, "moveTodo", map[string]any{"title": "Comprar tinta"})
	if res.OK || res.Kind != models.KindValidation {
		t.Errorf("move without destination = %+v", res)
	}
	res = f.mustOK(t, alice, "moveTodo", map[string]any{"title": "Comprar tinta", "groupId": groupID})
	if res.Action.Type != models.ActionTaskMoved || res.Action.GroupID != groupID {
		t.Errorf("move action = %+v", res.Action)
	}

	res = f.mustOK(t, alice, "deleteTodo", map[string]any{"id": payloadID(t, task)})
	if res.Action.Type != models.ActionTaskDeleted {
		t.Errorf("delete action = %+v", res.Action)
	}
	res = f.call(t, alice, "deleteTodo", map[string]any{"id": payloadID(t, task)})
	if res.Kind != models.KindNotFound {
		t.Errorf("second delete = %+v, want not_found", res)
	}

	res = f.call(t, alice, "createTodo", map[string]any{"title": "x", "dueDate": "amanhã"})
	if res.OK || res.Kind != models.KindValidation {
		t.Errorf("bad due date = %+v", res)
	}
}

func TestGroupMembership(t *testing.T) {
	f := newFixture(t)
	alice := Caller{UserID: "alice"}
	g := f.mustOK(t, alice, "createGroup", map[string]any{"name": "Clube", "members": []string{"bob", "carol"}})
	groupID := payloadID(t, g)
	inGroup := Caller{UserID: "alice", GroupID: groupID}

	res := f.mustOK(t, inGroup, "removeGroupMember", map[string]any{"userId": "carol"})
	if res.Action.Type != models.ActionGroupUpdated || res.Payload["members"] != 2 {
		t.Errorf("remove = %+v", res)
	}
	res = f.mustOK(t, Caller{UserID: "bob", GroupID: groupID}, "leaveGroup", map[string]any{})
	if res.Action.Type != models.ActionGroupLeft {
		t.Errorf("leave = %+v", res.Action)
	}
	res = f.mustOK(t, alice, "updateGroup", map[string]any{"groupName": "clube", "newName": "Clube do livro"})
	if res.Payload["name"] != "Clube do livro" {
		t.Errorf("rename = %+v", res.Payload)
	}
	res = f.call(t, alice, "leaveGroup", map[string]any{})
	if res.OK || res.Kind != models.KindValidation {
		t.Errorf("leave without a group = %+v", res)
	}
}

func TestGroupNameAmbiguity(t *testing.T) {
	f := newFixture(t)
	alice := Caller{UserID: "alice"}
	f.mustOK(t, alice, "createGroup", map[string]any{"name": "Projeto A"})
	f.mustOK(t, alice, "createGroup", map[string]any{"name": "Projeto B"})

	res := f.call(t, alice, "sendGroupMessage", map[string]any{"groupName": "projeto", "text": "oi"})
	if !res.IsAmbiguous() || len(res.Candidates) != 2 {
		t.Fatalf("sendGroupMessage = %+v, want 2 candidates", res)
	}
	if res.Candidates[0].Name == "" {
		t.Errorf("group candidates carry names: %+v", res.Candidates)
	}
}

func TestMessagesAndComments(t *testing.T) {
	f := newFixture(t)
	alice := Caller{UserID: "alice"}
	bob := Caller{UserID: "bob"}
	g := f.mustOK(t, alice, "createGroup", map[string]any{"name": "Loja", "members": []string{"bob"}})
	groupID := payloadID(t, g)

	sent := f.mustOK(t, Caller{UserID: "alice", GroupID: groupID}, "sendGroupMessage", map[string]any{"text": "bom dia"})
	if sent.Action.Type != models.ActionGroupMessageSent || sent.Action.GroupID != groupID {
		t.Errorf("send action = %+v", sent.Action)
	}

	task := f.mustOK(t, Caller{UserID: "alice", GroupID: groupID}, "createTodo", map[string]any{"title": "Inventário"})
	taskID := payloadID(t, task)
	comment := f.mustOK(t, bob, "createTodoMessage", map[string]any{"id": taskID, "text": "começo amanhã"})
	commentID := payloadID(t, comment)
	if comment.Action.Type != models.ActionTodoMessageCreated || comment.Action.TaskID != taskID {
		t.Errorf("comment action = %+v", comment.Action)
	}

	res := f.call(t, alice, "updateTodoMessage", map[string]any{"messageId": commentID, "text": "hoje"})
	if res.OK {
		t.Error("only the author may edit a comment")
	}
	res = f.mustOK(t, bob, "updateTodoMessage", map[string]any{"messageId": commentID, "text": "hoje"})
	if res.Action.Type != models.ActionTodoMessageUpdated {
		t.Errorf("update action = %+v", res.Action)
	}

	list := f.mustOK(t, alice, "listTodoMessages", map[string]any{"title": "inventário"})
	if comments, _ := list.Payload["comments"].([]map[string]any); len(comments) != 1 {
		t.Errorf("comments = %v", list.Payload["comments"])
	}

	res = f.mustOK(t, bob, "deleteTodoMessage", map[string]any{"messageId": commentID})
	if res.Action.Type != models.ActionTodoMessageDeleted || res.Action.TaskID != taskID {
		t.Errorf("delete action = %+v", res.Action)
	}
}

func TestListFriends(t *testing.T) {
	f := newFixture(t)
	f.svc.SetFriends("alice", []domain.Friend{{UserID: "bob", Name: "Bob"}})
	res := f.mustOK(t, Caller{UserID: "alice"}, "listFriends", map[string]any{})
	friends, _ := res.Payload["friends"].([]map[string]any)
	if len(friends) != 1 || friends[0]["name"] != "Bob" {
		t.Errorf("friends = %v", fmt.Sprint(res.Payload["friends"]))
	}
}
