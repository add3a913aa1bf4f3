package session

import "github.com/google/uuid"

// newThreadID generates a 16-character random ASCII thread identifier.
func newThreadID() string {
	id := uuid.New().String()
	out := make([]byte, 0, 16)
	for i := 0; len(out) < 16 && i < len(id); i++ {
		if id[i] != '-' {
			out = append(out, id[i])
		}
	}
	return string(out)
}
