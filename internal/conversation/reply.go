package conversation

import "fmt"

// ReplyKind selects how a reply is rendered by the messaging transport.
type ReplyKind string

const (
	ReplyText    ReplyKind = "text"
	ReplyButtons ReplyKind = "buttons"
	ReplyList    ReplyKind = "list"
)

const (
	// MaxListRows is the hard cap of rows per outbound list message.
	MaxListRows = 10
	// MaxButtons is the cap of reply buttons per message.
	MaxButtons = 3
)

// Button is a quick-reply option.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Row is one selectable entry of a list message.
type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Section groups rows under a title.
type Section struct {
	Title string `json:"title"`
	Rows  []Row  `json:"rows"`
}

// ListMessage is an interactive list.
type ListMessage struct {
	Header     string    `json:"header"`
	Body       string    `json:"body"`
	ButtonText string    `json:"button_text"`
	Sections   []Section `json:"sections"`
}

// Reply is one outbound message produced by the engine.
type Reply struct {
	Kind    ReplyKind    `json:"kind"`
	Text    string       `json:"text,omitempty"`
	Buttons []Button     `json:"buttons,omitempty"`
	List    *ListMessage `json:"list,omitempty"`
}

// TextReply builds a plain text reply.
func TextReply(format string, args ...any) Reply {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	return Reply{Kind: ReplyText, Text: format}
}

// ButtonsReply builds a button reply, keeping at most MaxButtons options.
func ButtonsReply(body string, buttons ...Button) Reply {
	if len(buttons) > MaxButtons {
		buttons = buttons[:MaxButtons]
	}
	return Reply{Kind: ReplyButtons, Text: body, Buttons: buttons}
}

// ListSpec carries the labels for a list that may be split across messages.
type ListSpec struct {
	Header       string
	Body         string
	ButtonText   string
	SectionTitle string
	// Noun labels chunked sections, e.g. "Slots 11-20 of 23".
	Noun string
	// MoreHeader and MoreBody label every chunk after the first.
	MoreHeader string
	MoreBody   string
}

// SplitList renders rows as one or more list replies of at most MaxListRows rows.
// A single chunk keeps the ListSpec labels; multiple chunks are numbered
// "<Noun> a-b of N" with the range also shown on the list button.
func SplitList(spec ListSpec, rows []Row) []Reply {
	if len(rows) == 0 {
		return nil
	}
	total := len(rows)
	if total <= MaxListRows {
		title := spec.SectionTitle
		if title == "" {
			title = fmt.Sprintf("%d %s", total, spec.Noun)
		}
		return []Reply{listReply(spec.Header, spec.Body, spec.ButtonText, title, rows)}
	}

	moreHeader := spec.MoreHeader
	if moreHeader == "" {
		moreHeader = spec.Header
	}
	moreBody := spec.MoreBody
	if moreBody == "" {
		moreBody = spec.Body
	}

	replies := make([]Reply, 0, (total+MaxListRows-1)/MaxListRows)
	for start := 0; start < total; start += MaxListRows {
		end := start + MaxListRows
		if end > total {
			end = total
		}
		header, body := spec.Header, spec.Body
		if start > 0 {
			header, body = moreHeader, moreBody
		}
		replies = append(replies, listReply(
			header,
			body,
			fmt.Sprintf("%s (%d-%d)", spec.ButtonText, start+1, end),
			fmt.Sprintf("%s %d-%d of %d", spec.Noun, start+1, end, total),
			rows[start:end],
		))
	}
	return replies
}

func listReply(header, body, button, sectionTitle string, rows []Row) Reply {
	chunk := make([]Row, len(rows))
	copy(chunk, rows)
	return Reply{
		Kind: ReplyList,
		List: &ListMessage{
			Header:     header,
			Body:       body,
			ButtonText: button,
			Sections:   []Section{{Title: sectionTitle, Rows: chunk}},
		},
	}
}
