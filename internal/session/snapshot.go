package session

import (
	"ragchat/internal/domain"
)

// PreviewLimit is the number of runes of the last answer shown in a Snapshot.
const PreviewLimit = 120

// Snapshot is a read-only diagnostic view of a thread.
type Snapshot struct {
	NumMessages       int                      `json:"num_messages"`
	LastUserMessage   *string                  `json:"last_user_message"`
	LastAnswerPreview *string                  `json:"last_answer_preview"`
	StructuredAnswer  *domain.StructuredAnswer `json:"structured_answer"`
}

// Summarize builds the Snapshot of s. Absent values stay nil and encode as null.
func Summarize(s domain.State) Snapshot {
	snap := Snapshot{NumMessages: len(s.Messages), StructuredAnswer: s.StructuredAnswer.Clone()}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == domain.RoleUser {
			msg := s.Messages[i].Content
			snap.LastUserMessage = &msg
			break
		}
	}
	if s.StructuredAnswer != nil {
		p := preview(s.StructuredAnswer.Answer)
		snap.LastAnswerPreview = &p
	}
	return snap
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= PreviewLimit {
		return text
	}
	return string(r[:PreviewLimit]) + "..."
}
