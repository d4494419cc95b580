package domain

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label returns the role as rendered in prompts ("User", "Assistant").
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return "Other"
	}
}

// Turn is one message of a conversation. Turns are never mutated after creation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn creates a user Turn.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn creates an assistant Turn.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// Document represents a single raw source file loaded into the system.
type Document struct {
	ID      string
	Path    string
	Source  string
	Content string
}

// Chunk is a bounded window of a document; the unit of retrieval.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// RetrievedDoc is a chunk returned for the current turn, closest first.
type RetrievedDoc struct {
	Text     string  `json:"text"`
	Source   string  `json:"source"`
	Distance float32 `json:"distance"`
}

// StructuredAnswer is the parsed result of a generation call.
type StructuredAnswer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Clone returns a copy that shares no memory with a.
func (a *StructuredAnswer) Clone() *StructuredAnswer {
	if a == nil {
		return nil
	}
	return &StructuredAnswer{Answer: a.Answer, Sources: append([]string{}, a.Sources...)}
}

// State is the conversational memory of one thread.
// Messages is append-only; RetrievedDocs and StructuredAnswer only describe the latest turn.
type State struct {
	Messages         []Turn            `json:"messages"`
	RetrievedDocs    []RetrievedDoc    `json:"retrieved_docs"`
	StructuredAnswer *StructuredAnswer `json:"structured_answer"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{StructuredAnswer: s.StructuredAnswer.Clone()}
	if s.Messages != nil {
		out.Messages = append(make([]Turn, 0, len(s.Messages)), s.Messages...)
	}
	if s.RetrievedDocs != nil {
		out.RetrievedDocs = append(make([]RetrievedDoc, 0, len(s.RetrievedDocs)), s.RetrievedDocs...)
	}
	return out
}

// LastTurn returns the final message, if any.
func (s State) LastTurn() (Turn, bool) {
	if len(s.Messages) == 0 {
		return Turn{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Route is the per-turn dispatch decision of the intent router.
type Route int

const (
	RouteRetrieve Route = iota
	RouteDirectAnswer
	RouteTerminate
)

func (r Route) String() string {
	switch r {
	case RouteRetrieve:
		return "retrieve"
	case RouteDirectAnswer:
		return "direct_answer"
	case RouteTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// MarshalText encodes the route by name.
func (r Route) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Node is a state of the conversation graph.
type Node int

const (
	NodeRouter Node = iota
	NodeRetrieve
	NodeGenerate
	NodeGenerateDirect
	NodeTerminal
)

func (n Node) String() string {
	switch n {
	case NodeRouter:
		return "router"
	case NodeRetrieve:
		return "retrieve"
	case NodeGenerate:
		return "generate"
	case NodeGenerateDirect:
		return "generate_direct"
	case NodeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// MarshalText encodes the node by name.
func (n Node) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// Fragment is a piece of streamed output produced while a node runs.
type Fragment struct {
	Node Node   `json:"node"`
	Text string `json:"text"`
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}
