package model

// Raw upstream payload shapes, as returned by the Patchwork API. Field names
// follow the upstream JSON; mapping into domain records happens in the
// convert package.

type RawSubmitter struct {
	Id    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type RawSeries struct {
	Id      int    `json:"id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

type RawPatch struct {
	Id        int           `json:"id"`
	Name      string        `json:"name"`
	Submitter *RawSubmitter `json:"submitter"`
	Date      string        `json:"date"`
	Url       string        `json:"url"`
	WebUrl    string        `json:"web_url"`
	Mbox      string        `json:"mbox"`
	MessageId string        `json:"msgid"`
	CommitRef string        `json:"commit_ref"`
	PullUrl   string        `json:"pull_url"`
	Hash      string        `json:"hash"`
	Content   string        `json:"content"`
	Series    []*RawSeries  `json:"series"`
}

type RawDiscussion struct {
	Id        int           `json:"id"`
	MessageId string        `json:"msgid"`
	InReplyTo string        `json:"in_reply_to"`
	ThreadId  string        `json:"thread_id"`
	Subject   string        `json:"subject"`
	Content   string        `json:"content"`
	Submitter *RawSubmitter `json:"submitter"`
	Date      string        `json:"date"`
}
