package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"jobhost/internal/eventbus"
	"jobhost/internal/platform"
	"jobhost/internal/storage"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local

	// PollInterval paces dependent-job triggers. 0 means job.DefaultPollInterval.
	PollInterval time.Duration
	// TriggerWait bounds dependent-job triggers. 0 means job.DefaultTriggerWait.
	TriggerWait time.Duration
}

// Deps are the collaborators of a Service. Engine and Registry are required.
type Deps struct {
	Engine   *engine.Service
	Registry *job.Registry
	Store    storage.Store // optional; without it updates live in memory only
	Locator  platform.Locator
	Metadata platform.MetadataFactory
	Bus      eventbus.Bus
	Logger   logx.Logger
}

// Trigger sources recorded on runs.
const (
	SourceSchedule = "schedule"
	SourceManual   = "manual"
)

type entry struct {
	detail job.JobDetail
	ctor   job.Constructor
	spec   *ParsedSpec // nil when the job has no schedule

	entryID       cron.EntryID
	startupSpread time.Duration

	status  job.Status
	host    *job.Signal // stop signal of the current run
	stopReq bool        // stop requested while queued

	runs     uint64
	failures uint64
	lastRun  time.Time
	lastErr  string
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	deps Deps

	parser cron.Parser
	c      *cron.Cron
	jobs   map[string]*entry
	order  []string

	started   bool
	spreadSeq atomic.Uint64

	// Enqueue error throttling: key is job name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// JobInfo is the diagnostic view of one job.
type JobInfo struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Schedule string        `json:"schedule,omitempty"`
	Enabled  bool          `json:"enabled"`
	Timeout  time.Duration `json:"timeout"`
	Status   string        `json:"status"`
	Spread   time.Duration `json:"startup_spread,omitempty"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

type Snapshot struct {
	Enabled  bool            `json:"enabled"`
	Timezone string          `json:"timezone"`
	Jobs     []JobInfo       `json:"jobs"`
	Engine   engine.Snapshot `json:"engine"`
}

// JobEvent is the payload of job.* bus events.
type JobEvent struct {
	Name   string        `json:"name"`
	Kind   string        `json:"kind"`
	RunID  string        `json:"run_id,omitempty"`
	Source string        `json:"source,omitempty"`
	Status string        `json:"status"`
	Took   time.Duration `json:"took,omitempty"`
	Error  string        `json:"error,omitempty"`
}
