// Package context assembles the size-bounded conversation context handed to
// the language model for a private thread or a group chat.
//
// Assembly is pure: it never reads or writes storage. Callers load history
// and the rolling summary and pass them in.
package context

// Limits bounds assembled context. Sizes are counted in runes.
type Limits struct {
	// MaxContextMessages caps a private thread, incoming message included.
	MaxContextMessages int `json:"max_context_messages" yaml:"max_context_messages"`
	// MaxTextPerMessage truncates each compacted message.
	MaxTextPerMessage int `json:"max_text_per_message" yaml:"max_text_per_message"`
	// MaxThreadContextChars caps the combined size of a private thread.
	MaxThreadContextChars int `json:"max_thread_context_chars" yaml:"max_thread_context_chars"`
	// MaxGroupContextMessages caps raw group messages; the summary is not counted.
	MaxGroupContextMessages int `json:"max_group_context_messages" yaml:"max_group_context_messages"`
	// MaxGroupContextChars caps messages plus summary for a group.
	MaxGroupContextChars int `json:"max_group_context_chars" yaml:"max_group_context_chars"`
}

// DefaultLimits returns the production budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxContextMessages:      20,
		MaxTextPerMessage:       600,
		MaxThreadContextChars:   6000,
		MaxGroupContextMessages: 30,
		MaxGroupContextChars:    8000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxContextMessages <= 0 {
		l.MaxContextMessages = d.MaxContextMessages
	}
	if l.MaxTextPerMessage <= 0 {
		l.MaxTextPerMessage = d.MaxTextPerMessage
	}
	if l.MaxThreadContextChars <= 0 {
		l.MaxThreadContextChars = d.MaxThreadContextChars
	}
	if l.MaxGroupContextMessages <= 0 {
		l.MaxGroupContextMessages = d.MaxGroupContextMessages
	}
	if l.MaxGroupContextChars <= 0 {
		l.MaxGroupContextChars = d.MaxGroupContextChars
	}
	return l
}
