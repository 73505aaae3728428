package router

import "testing"

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Não!!  Cancela":   "nao cancela",
		"  Olá, ELISA ":    "ola elisa",
		"É isso mesmo...": "e isso mesmo",
		"":                 "",
	}
	for in, want := range tests {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	m := newMatcher(Phrases{})
	tests := []struct {
		text string
		want Answer
	}{
		{"sim", AnswerYes},
		{"Sim!", AnswerYes},
		{"pode sim, obrigado", AnswerYes},
		{"isso mesmo", AnswerYes},
		{"não", AnswerNo},
		{"Nao pode", AnswerNo},
		{"cancela", AnswerNo},
		{"deixa pra lá", AnswerNo},
		{"sim mas não agora", AnswerNone},
		{"simples assim", AnswerNone},
		{"o cliente ligou", AnswerNone},
		{"sim, e aproveita para revisar também o anexo do contrato", AnswerNone},
		{"", AnswerNone},
	}
	for _, tt := range tests {
		if got := m.Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestIsGreeting(t *testing.T) {
	m := newMatcher(Phrases{})
	tests := []struct {
		text string
		want bool
	}{
		{"oi", true},
		{"Oi Elisa, tudo bem?", true},
		{"Bom dia!", true},
		{"E aí", true},
		{"Elisa", false},
		{"oi, cria uma tarefa", false},
		{"boa ideia", false},
	}
	for _, tt := range tests {
		if got := m.IsGreeting(tt.text); got != tt.want {
			t.Errorf("IsGreeting(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMentioned(t *testing.T) {
	m := newMatcher(Phrases{})
	if !m.Mentioned("Ei ELISA, me ajuda") {
		t.Error("expected mention")
	}
	if m.Mentioned("a elisabete chegou") {
		t.Error("partial word matched as mention")
	}
}

func TestSuggestion(t *testing.T) {
	m := newMatcher(Phrases{})
	tests := []struct {
		text  string
		title string
		ok    bool
	}{
		{"Precisamos revisar o contrato amanhã.", "Revisar o contrato amanhã", true},
		{"Gente, temos que ligar para o cliente", "Ligar para o cliente", true},
		{"Não esquecer de pagar o boleto #12!", "Pagar o boleto #12", true},
		{"precisamos conversar", "", false},
		{"o contrato vence sexta", "", false},
	}
	for _, tt := range tests {
		title, ok := m.Suggestion(tt.text)
		if ok != tt.ok || title != tt.title {
			t.Errorf("Suggestion(%q) = %q, %v, want %q, %v", tt.text, title, ok, tt.title, tt.ok)
		}
	}
}

func TestSuggestionTitleIsBounded(t *testing.T) {
	m := newMatcher(Phrases{})
	long := "precisamos "
	for range 40 {
		long += "revisar "
	}
	title, ok := m.Suggestion(long)
	if !ok {
		t.Fatal("expected a suggestion")
	}
	if n := len([]rune(title)); n > maxSuggestionTitle {
		t.Errorf("title has %d runes", n)
	}
}
