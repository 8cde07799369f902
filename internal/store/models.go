package store

import "time"

// Priority orders Task dispatch; higher values run first.
type Priority int

const (
	PriorityLow Priority = iota * 10
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// TaskStatus is a Task's lifecycle state: created only in Pending,
// transitioning Pending->Running->{Completed,Failed,Cancelled}, or
// Pending->Cancelled directly.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is the only durable record of intent for any mutating command.
type Task struct {
	ID          string     `json:"id"`
	ZoneName    string     `json:"zone_name"` // "system" for host-level tasks
	Operation   string     `json:"operation"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
	DependsOn   string     `json:"depends_on,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Metadata    string     `json:"metadata,omitempty"` // opaque JSON
	Error       string     `json:"error,omitempty"`
	RetriesLeft int        `json:"retries_left"`
}

// ZoneStatus mirrors illumos zoneadm's reported states plus the host's
// own bookkeeping states.
type ZoneStatus string

const (
	ZoneConfigured ZoneStatus = "configured"
	ZoneInstalled  ZoneStatus = "installed"
	ZoneRunning    ZoneStatus = "running"
	ZoneStopped    ZoneStatus = "stopped"
	ZoneShuttingDown ZoneStatus = "shutting_down"
	ZoneIncomplete ZoneStatus = "incomplete"
)

// Zone is a host-resident illumos zone.
type Zone struct {
	Name          string     `json:"name"`
	Status        ZoneStatus `json:"status"`
	IsOrphaned    bool       `json:"is_orphaned"`
	LastSeen      time.Time  `json:"last_seen"`
	Configuration string     `json:"configuration"` // opaque JSON: brand, ram, vcpus, autoboot, priority, net[], disks, vnc, ...
	VMType        string     `json:"vm_type"`
	PartitionID   string     `json:"partition_id"`
}

// RecipeStep is one step of a Recipe, discriminated by Type.
type RecipeStep struct {
	Type           string `json:"type"` // wait|send|command|template|delay
	Pattern        string `json:"pattern,omitempty"`
	Value          string `json:"value,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	ExpectPrompt   string `json:"expect_prompt,omitempty"`
	CheckExitCode  *bool  `json:"check_exit_code,omitempty"`
	Dest           string `json:"dest,omitempty"`
	Content        string `json:"content,omitempty"`
	Method         string `json:"method,omitempty"` // echo_redirect|heredoc
	DelaySeconds   int    `json:"delay_seconds,omitempty"`
}

// Recipe is a declarative PTY automation sequence.
type Recipe struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	OSFamily       string            `json:"os_family"` // linux|solaris|windows
	Brand          string            `json:"brand"`
	IsDefault      bool              `json:"is_default"`
	BootString     string            `json:"boot_string"`
	LoginPrompt    string            `json:"login_prompt"`
	ShellPrompt    string            `json:"shell_prompt"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Steps          []RecipeStep      `json:"steps"`
	Variables      map[string]string `json:"variables"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// VncSessionStatus is a VncSession's lifecycle state.
type VncSessionStatus string

const (
	VncActive  VncSessionStatus = "active"
	VncStopped VncSessionStatus = "stopped"
)

// VncSession tracks a supervised `zadm vnc` process.
type VncSession struct {
	ID          string           `json:"id"`
	ZoneName    string           `json:"zone_name"`
	WebPort     int              `json:"web_port"`
	HostIP      string           `json:"host_ip"`
	ProcessID   int              `json:"process_id"`
	Status      VncSessionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	LastAccessed time.Time       `json:"last_accessed"`
}

// ZloginSessionStatus is a ZloginSession's lifecycle state.
type ZloginSessionStatus string

const (
	ZloginActive ZloginSessionStatus = "active"
	ZloginClosed ZloginSessionStatus = "closed"
)

// ZloginSession tracks a zone's shared console PTY.
type ZloginSession struct {
	ZoneName         string              `json:"zone_name"`
	PID              int                 `json:"pid"`
	Status           ZloginSessionStatus `json:"status"`
	AutomationActive bool                `json:"automation_active"`
	CreatedAt        time.Time           `json:"created_at"`
	LastActivity     time.Time           `json:"last_activity"`
}

// NatRuleType is one of the three ipnat.conf rule forms.
type NatRuleType string

const (
	NatMap   NatRuleType = "portmap"
	NatBimap NatRuleType = "bimap"
	NatRdr   NatRuleType = "rdr"
)

// NatRule mirrors one line of /etc/ipf/ipnat.conf.
type NatRule struct {
	ID          string      `json:"id"`
	Type        NatRuleType `json:"type"`
	Bridge      string      `json:"bridge"`
	Subnet      string      `json:"subnet"`
	Target      string      `json:"target"`
	Protocol    string      `json:"protocol"`
	RawRule     string      `json:"raw_rule"`
	Description string      `json:"description"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ZFSPoolRecord, ZFSDatasetRecord, DiskRecord, PoolIOStatRecord,
// DiskIOStatRecord, ARCStatsRecord are one row per scan timestamp per
// subject. Bytes-typed fields carry both the original unit string and
// the parsed integer.
type ZFSPoolRecord struct {
	Host        string    `json:"host"`
	ScannedAt   time.Time `json:"scanned_at"`
	Name        string    `json:"name"`
	Size        string    `json:"size"`
	SizeBytes   *string   `json:"size_bytes"`
	Alloc       string    `json:"alloc"`
	AllocBytes  *string   `json:"alloc_bytes"`
	Free        string    `json:"free"`
	FreeBytes   *string   `json:"free_bytes"`
	CapacityPct float64   `json:"capacity_pct"`
	Health      string    `json:"health"`
}

type ZFSDatasetRecord struct {
	Host       string            `json:"host"`
	ScannedAt  time.Time         `json:"scanned_at"`
	Name       string            `json:"name"`
	ZoneName   string            `json:"zone_name"`
	UsedBytes  *string           `json:"used_bytes"`
	AvailBytes *string           `json:"avail_bytes"`
	ReferBytes *string           `json:"refer_bytes"`
	Mountpoint string            `json:"mountpoint"`
	Properties map[string]string `json:"properties,omitempty"`
}

type DiskRecord struct {
	Host        string    `json:"host"`
	ScannedAt   time.Time `json:"scanned_at"`
	DeviceName  string    `json:"device_name"`
	Vendor      string    `json:"vendor"`
	Model       string    `json:"model"`
	CapacityRaw string    `json:"capacity_raw"`
	DiskType    string    `json:"disk_type"`
	Interface   string    `json:"interface"`
}

type PoolIOStatRecord struct {
	Host      string    `json:"host"`
	ScannedAt time.Time `json:"scanned_at"`
	Pool      string    `json:"pool"`
	PoolType  string    `json:"pool_type"`
	OpsRead   string    `json:"ops_read"`
	OpsWrite  string    `json:"ops_write"`
	BwRead    string    `json:"bw_read"`
	BwWrite   string    `json:"bw_write"`
}

type DiskIOStatRecord struct {
	Host      string    `json:"host"`
	ScannedAt time.Time `json:"scanned_at"`
	Pool      string    `json:"pool"`
	Device    string    `json:"device"`
	OpsRead   string    `json:"ops_read"`
	OpsWrite  string    `json:"ops_write"`
	BwRead    string    `json:"bw_read"`
	BwWrite   string    `json:"bw_write"`
}

type ARCStatsRecord struct {
	Host      string    `json:"host"`
	ScannedAt time.Time `json:"scanned_at"`
	Size      uint64    `json:"size"`
	TargetSize uint64   `json:"target_size"`
	Hits      uint64    `json:"hits"`
	Misses    uint64    `json:"misses"`
	HitRatio  string    `json:"hit_ratio"`
}

// HostInfo is a singleton row keyed by hostname.
type HostInfo struct {
	Hostname        string    `json:"hostname"`
	LastStorageScan time.Time `json:"last_storage_scan"`
	ErrorCount      int       `json:"error_count"`
}
