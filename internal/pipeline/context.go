package pipeline

import (
	"fmt"
	"strings"

	"github.com/ent0n29/rapport/internal/contextual"
	"github.com/ent0n29/rapport/internal/identity"
	"github.com/ent0n29/rapport/internal/profile"
)

// BuildContext renders the prompt block handed to the response generator:
// who is speaking, what is known about them, how the turn reads and what
// they said before that matters now.
func BuildContext(p *profile.Profile, res identity.Resolution, sig contextual.Signature, memories string) string {
	var b strings.Builder
	if p == nil {
		fmt.Fprintf(&b, "Speaker: unknown (confidence %.2f)", res.Confidence)
	} else {
		fmt.Fprintf(&b, "Speaker: %s (confidence %.2f", p.DisplayName, res.Confidence)
		if res.IsNewUser {
			b.WriteString(", first time")
		} else if p.ConversationCount > 1 {
			fmt.Fprintf(&b, ", %d conversations", p.ConversationCount)
		}
		b.WriteString(")")
		if known := knownFacts(p.Personal); known != "" {
			b.WriteString("\nKnown: ")
			b.WriteString(known)
		}
		if base := p.Preferences.FormalityBaseline(); base != "" && base != string(sig.Formality) {
			fmt.Fprintf(&b, "\nUsually %s, now %s", base, sig.Formality)
		}
	}
	b.WriteString("\nTurn: ")
	b.WriteString(sig.Describe())
	if memories != "" {
		b.WriteString("\n")
		b.WriteString(memories)
	}
	return b.String()
}

func knownFacts(p profile.Personal) string {
	var parts []string
	if p.Profession != "" {
		parts = append(parts, "works as "+p.Profession)
	}
	if p.Location != "" {
		parts = append(parts, "lives in "+p.Location)
	}
	if len(p.Relationships) > 0 {
		parts = append(parts, "mentions "+strings.Join(p.Relationships, ", "))
	}
	if len(p.Interests) > 0 {
		parts = append(parts, "enjoys "+strings.Join(p.Interests, ", "))
	}
	return strings.Join(parts, "; ")
}
