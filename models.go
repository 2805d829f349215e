package main

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Loading tracks which stages of an assistant message are in flight
type Loading struct {
	Stage1 bool `json:"stage1"`
	Stage2 bool `json:"stage2"`
	Stage3 bool `json:"stage3"`
}

// Any reports whether any stage is currently loading
func (l Loading) Any() bool {
	return l.Stage1 || l.Stage2 || l.Stage3
}

// Message represents a single message in a conversation.
// User messages carry Content; assistant messages carry the stage results.
type Message struct {
	ID       string           `json:"-"`
	Role     string           `json:"role"`
	Content  string           `json:"content,omitempty"`
	Stage1   []Stage1Response `json:"stage1,omitempty"`
	Stage2   []Stage2Ranking  `json:"stage2,omitempty"`
	Stage3   *Stage3Response  `json:"stage3,omitempty"`
	Metadata *Metadata        `json:"metadata,omitempty"`
	Loading  Loading          `json:"-"`
	Pending  bool             `json:"-"`
	Error    string           `json:"-"`
}

// Complete reports whether the chairman's answer has arrived
func (m Message) Complete() bool {
	return m.Stage3 != nil
}

// clone returns a copy of the message that shares no slices or pointers with m
func (m Message) clone() Message {
	out := m
	if m.Stage1 != nil {
		out.Stage1 = make([]Stage1Response, len(m.Stage1))
		copy(out.Stage1, m.Stage1)
	}
	if m.Stage2 != nil {
		out.Stage2 = make([]Stage2Ranking, len(m.Stage2))
		for i, r := range m.Stage2 {
			r.ParsedRanking = append([]string(nil), r.ParsedRanking...)
			out.Stage2[i] = r
		}
	}
	if m.Stage3 != nil {
		s3 := *m.Stage3
		out.Stage3 = &s3
	}
	if m.Metadata != nil {
		md := m.Metadata.clone()
		out.Metadata = &md
	}
	return out
}

// Conversation represents a full conversation with all messages
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

// clone returns a deep copy of the conversation
func (c Conversation) clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	return out
}

// ConversationMetadata represents conversation list metadata
type ConversationMetadata struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
}

// Stage1Response represents a single model's response in Stage 1
type Stage1Response struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// Stage2Ranking represents a model's ranking of other responses
type Stage2Ranking struct {
	Model         string   `json:"model"`
	Ranking       string   `json:"ranking"`
	ParsedRanking []string `json:"parsed_ranking"`
}

// Stage3Response represents the chairman's final synthesis
type Stage3Response struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// AggregateRanking represents the aggregate ranking across all models
type AggregateRanking struct {
	Model         string  `json:"model"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// Metadata contains additional information about the council process
type Metadata struct {
	LabelToModel      map[string]string  `json:"label_to_model"`
	AggregateRankings []AggregateRanking `json:"aggregate_rankings"`
}

func (m Metadata) clone() Metadata {
	var out Metadata
	if m.AggregateRankings != nil {
		out.AggregateRankings = make([]AggregateRanking, len(m.AggregateRankings))
		copy(out.AggregateRankings, m.AggregateRankings)
	}
	if m.LabelToModel != nil {
		out.LabelToModel = make(map[string]string, len(m.LabelToModel))
		for k, v := range m.LabelToModel {
			out.LabelToModel[k] = v
		}
	}
	return out
}

// Roster names the council members and the chairman.
// It is supplied at start-up, either by the server or by configuration.
type Roster struct {
	CouncilModels []string `json:"council_models"`
	ChairmanModel string   `json:"chairman_model"`
}

// SendMessageRequest represents a request to send a message
type SendMessageRequest struct {
	Content string `json:"content"`
}

// APIErrorBody is the structured error body returned on non-2xx responses
type APIErrorBody struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail carries the machine readable code of a failed request
type APIErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	MessageEN string         `json:"message_en,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
