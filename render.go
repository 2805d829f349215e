package main

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/lipgloss"
)

var (
	htmlTagPattern   = regexp.MustCompile(`(?i)<(p|div|br|ul|ol|li|h[1-6]|table|tr|td|span|strong|em|b|i|code|pre|a)\b[^>]*>`)
	emphasisPattern  = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	blankRunsPattern = regexp.MustCompile(`\n{3,}`)
)

// ConversationRenderer writes a plain terminal view of a conversation
type ConversationRenderer struct {
	w      io.Writer
	roster Roster

	title   lipgloss.Style
	heading lipgloss.Style
	model   lipgloss.Style
	dim     lipgloss.Style
	failure lipgloss.Style
}

// NewConversationRenderer creates a renderer writing to w. Styling is only
// applied when w is a terminal.
func NewConversationRenderer(w io.Writer, roster Roster) *ConversationRenderer {
	r := lipgloss.NewRenderer(w)
	return &ConversationRenderer{
		w:       w,
		roster:  roster,
		title:   r.NewStyle().Bold(true).Underline(true),
		heading: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		model:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		dim:     r.NewStyle().Faint(true),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// Render writes the whole conversation
func (r *ConversationRenderer) Render(conv Conversation) {
	title := conv.Title
	if title == "" {
		title = "New Conversation"
	}
	fmt.Fprintln(r.w, r.title.Render(title))
	fmt.Fprintln(r.w)

	for _, msg := range conv.Messages {
		if msg.Role == RoleUser {
			fmt.Fprintf(r.w, "%s %s\n\n", r.heading.Render("You:"), msg.Content)
			continue
		}
		r.RenderAssistant(msg)
	}
}

// RenderAssistant writes one assistant message, stage by stage
func (r *ConversationRenderer) RenderAssistant(msg Message) {
	r.renderStage1(msg)
	r.renderStage2(msg)
	r.renderStage3(msg)
	if msg.Error != "" {
		fmt.Fprintf(r.w, "%s %s\n\n", r.failure.Render("Error:"), msg.Error)
	}
}

func (r *ConversationRenderer) renderStage1(msg Message) {
	switch {
	case msg.Loading.Stage1:
		fmt.Fprintln(r.w, r.dim.Render("Stage 1: collecting individual responses..."))
		fmt.Fprintln(r.w)
	case msg.Stage1 != nil:
		fmt.Fprintln(r.w, r.heading.Render("Stage 1: Individual Responses"))
		for _, resp := range r.seatOrder(msg.Stage1) {
			fmt.Fprintf(r.w, "\n%s\n%s\n", r.model.Render(ShortName(resp.Model)), plainText(resp.Response))
		}
		fmt.Fprintln(r.w)
	}
}

func (r *ConversationRenderer) renderStage2(msg Message) {
	switch {
	case msg.Loading.Stage2:
		fmt.Fprintln(r.w, r.dim.Render("Stage 2: peer rankings in progress..."))
		fmt.Fprintln(r.w)
	case msg.Stage2 != nil:
		var labelToModel map[string]string
		if msg.Metadata != nil {
			labelToModel = msg.Metadata.LabelToModel
		}

		fmt.Fprintln(r.w, r.heading.Render("Stage 2: Peer Rankings"))
		for _, ranking := range msg.Stage2 {
			fmt.Fprintf(r.w, "\n%s\n", r.model.Render(ShortName(ranking.Model)))
			fmt.Fprintln(r.w, r.emphasize(plainText(DeAnonymize(ranking.Ranking, labelToModel))))
			if len(ranking.ParsedRanking) > 0 {
				fmt.Fprintln(r.w, r.dim.Render("Extracted ranking:"))
				for i, label := range ranking.ParsedRanking {
					name := label
					if model, ok := labelToModel[label]; ok {
						name = ShortName(model)
					}
					fmt.Fprintf(r.w, "  %d. %s\n", i+1, name)
				}
			}
		}

		if msg.Metadata != nil {
			if order := AggregateOrder(*msg.Metadata); len(order) > 0 {
				fmt.Fprintf(r.w, "\n%s\n", r.heading.Render("Aggregate Rankings (Street Cred)"))
				for i, agg := range order {
					if agg.RankingsCount == 0 {
						fmt.Fprintf(r.w, "  #%d %s  %s\n", i+1, ShortName(agg.Model), r.dim.Render("(not ranked)"))
						continue
					}
					fmt.Fprintf(r.w, "  #%d %s  avg %.2f  (%d votes)\n", i+1, ShortName(agg.Model), agg.AverageRank, agg.RankingsCount)
				}
			}
		}
		fmt.Fprintln(r.w)
	}
}

func (r *ConversationRenderer) renderStage3(msg Message) {
	switch {
	case msg.Loading.Stage3:
		fmt.Fprintln(r.w, r.dim.Render("Stage 3: chairman is synthesizing the final answer..."))
		fmt.Fprintln(r.w)
	case msg.Stage3 != nil:
		label := "Chairman: " + ShortName(msg.Stage3.Model)
		if r.roster.ChairmanModel != "" && !r.roster.IsChairman(msg.Stage3.Model) {
			label += " (not the configured chairman)"
		}
		fmt.Fprintln(r.w, r.heading.Render("Stage 3: Final Council Answer"))
		fmt.Fprintln(r.w, r.model.Render(label))
		fmt.Fprintln(r.w, plainText(msg.Stage3.Response))
		fmt.Fprintln(r.w)
	}
}

// seatOrder sorts stage 1 responses by council seat; models outside the
// roster keep their arrival order after the seated ones
func (r *ConversationRenderer) seatOrder(responses []Stage1Response) []Stage1Response {
	out := slices.Clone(responses)
	seat := func(model string) int {
		if p := r.roster.Position(model); p >= 0 {
			return p
		}
		return len(r.roster.CouncilModels)
	}
	slices.SortStableFunc(out, func(a, b Stage1Response) int {
		return seat(a.Model) - seat(b.Model)
	})
	return out
}

// emphasize styles the **name** markers produced by DeAnonymize
func (r *ConversationRenderer) emphasize(text string) string {
	return emphasisPattern.ReplaceAllStringFunc(text, func(m string) string {
		return r.model.Render(strings.Trim(m, "*"))
	})
}

// plainText flattens HTML fragments in model output into readable text.
// Anything that does not look like HTML is returned unchanged.
func plainText(s string) string {
	if !htmlTagPattern.MatchString(s) {
		return s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("li").PrependHtml("- ")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr, pre").AppendHtml("\n")

	text := blankRunsPattern.ReplaceAllString(doc.Text(), "\n\n")
	return strings.TrimSpace(text)
}
