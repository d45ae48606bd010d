package service

import (
	"regexp"
	"strings"

	"github.com/boddenberg/atas-admin-go/internal/domain"
)

// mentionPattern matches the editor markup @[Name](user-id) and bare @handles.
var mentionPattern = regexp.MustCompile(`@\[([^\]]+)\]\(([^)\s]+)\)|@([\p{L}\d][\p{L}\d._-]*)`)

// Segment is a run of comment text; mention segments carry the user id
// from the markup or the bare handle to be resolved.
type Segment struct {
	Text    string `json:"text"`
	Mention bool   `json:"mention,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Handle  string `json:"handle,omitempty"`
}

// SplitMentions splits body into text and mention segments, in order.
func SplitMentions(body string) []Segment {
	var out []Segment
	last := 0
	for _, m := range mentionPattern.FindAllStringSubmatchIndex(body, -1) {
		start, end := m[0], m[1]
		// An @ glued to a word is an e-mail address, not a mention.
		if start > 0 && isWordByte(body[start-1]) {
			continue
		}
		if start > last {
			out = append(out, Segment{Text: body[last:start]})
		}
		seg := Segment{Mention: true}
		if m[2] >= 0 {
			seg.Text = "@" + body[m[2]:m[3]]
			seg.UserID = body[m[4]:m[5]]
		} else {
			// Trailing dots end the sentence and stay in the following text.
			raw := body[m[6]:m[7]]
			seg.Handle = strings.TrimRight(raw, ".")
			end -= len(raw) - len(seg.Handle)
			seg.Text = body[start:end]
		}
		out = append(out, seg)
		last = end
	}
	if last < len(body) {
		out = append(out, Segment{Text: body[last:]})
	}
	return out
}

// MentionedUserIDs resolves the mention segments of body against users and
// returns the distinct ids in order of appearance, without exclude.
func MentionedUserIDs(body string, users []domain.User, exclude string) []string {
	byHandle := make(map[string]string, len(users)*2)
	known := make(map[string]bool, len(users))
	for _, u := range users {
		known[u.ID] = true
		if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
			byHandle[strings.ToLower(local)] = u.ID
		}
		if compact := strings.ToLower(strings.ReplaceAll(u.Name, " ", "")); compact != "" {
			if _, taken := byHandle[compact]; !taken {
				byHandle[compact] = u.ID
			}
		}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, seg := range SplitMentions(body) {
		if !seg.Mention {
			continue
		}
		id := seg.UserID
		if id == "" {
			id = byHandle[strings.ToLower(seg.Handle)]
		} else if len(users) > 0 && !known[id] {
			id = ""
		}
		if id == "" || id == exclude || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func isWordByte(b byte) bool {
	return b == '_' || b == '.' || b == '-' ||
		(b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
