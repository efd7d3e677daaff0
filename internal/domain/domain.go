package domain

import "time"

// Scope selects which subscriptions a digest covers.
type Scope string

const (
	ScopeAll   Scope = "all"
	ScopeFeed  Scope = "feed"
	ScopeGroup Scope = "group"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeFeed, ScopeGroup:
		return true
	default:
		return false
	}
}

// Article is one entry fetched from the feed backend.
type Article struct {
	ID            int64
	Title         string
	URL           string
	Content       string
	Author        string
	PublishedAt   time.Time
	FeedID        int64
	FeedTitle     string
	FeedSiteURL   string
	CategoryID    int64
	CategoryTitle string
}

// Digest is a generated or manually saved document.
type Digest struct {
	ID             string
	Title          string
	Content        string
	Scope          Scope
	ScopeID        int64
	ScopeName      string
	ArticleCount   int
	WindowHours    int
	TargetLanguage string
	IsRead         bool
	GeneratedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PushConfig describes a webhook delivery target.
type PushConfig struct {
	URL          string
	Method       string
	BodyTemplate string
}

// ScheduledTask is a recurring digest-generation configuration.
type ScheduledTask struct {
	ID             int64
	Name           string
	Scope          Scope
	ScopeID        int64
	ScopeName      string
	WindowHours    int
	TargetLanguage string
	UnreadOnly     bool
	PushEnabled    bool
	Push           PushConfig
	CronExpr       string
	Timezone       string
	IsActive       bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProviderConfig is the decrypted view of an AI provider record.
type ProviderConfig struct {
	Provider string
	APIURL   string
	APIKey   string
	Model    string
}

// SourceConfig is the decrypted view of the feed backend record.
type SourceConfig struct {
	ServerURL string
	Token     string
}
