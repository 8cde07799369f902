package store

// Repo aggregates a typed Table handle for every persisted entity,
// giving every component a single dependency to wire in.
type Repo struct {
	Tasks          *TableHandle[Task]
	Zones          *TableHandle[Zone]
	Recipes        *TableHandle[Recipe]
	VncSessions    *TableHandle[VncSession]
	ZloginSessions *TableHandle[ZloginSession]
	NatRules       *TableHandle[NatRule]
	ZFSPools       *TableHandle[ZFSPoolRecord]
	ZFSDatasets    *TableHandle[ZFSDatasetRecord]
	Disks          *TableHandle[DiskRecord]
	PoolIOStats    *TableHandle[PoolIOStatRecord]
	DiskIOStats    *TableHandle[DiskIOStatRecord]
	ARCStats       *TableHandle[ARCStatsRecord]
	HostInfo       *TableHandle[HostInfo]
}

// NewRepo opens (or creates) every bucket and returns the aggregate repo.
func NewRepo(s *Store) (*Repo, error) {
	var (
		r   Repo
		err error
	)

	if r.Tasks, err = Table[Task](s, "tasks"); err != nil {
		return nil, err
	}
	if r.Zones, err = Table[Zone](s, "zones"); err != nil {
		return nil, err
	}
	if r.Recipes, err = Table[Recipe](s, "recipes"); err != nil {
		return nil, err
	}
	if r.VncSessions, err = Table[VncSession](s, "vnc_sessions"); err != nil {
		return nil, err
	}
	if r.ZloginSessions, err = Table[ZloginSession](s, "zlogin_sessions"); err != nil {
		return nil, err
	}
	if r.NatRules, err = Table[NatRule](s, "nat_rules"); err != nil {
		return nil, err
	}
	if r.ZFSPools, err = Table[ZFSPoolRecord](s, "zfs_pools"); err != nil {
		return nil, err
	}
	if r.ZFSDatasets, err = Table[ZFSDatasetRecord](s, "zfs_datasets"); err != nil {
		return nil, err
	}
	if r.Disks, err = Table[DiskRecord](s, "disks"); err != nil {
		return nil, err
	}
	if r.PoolIOStats, err = Table[PoolIOStatRecord](s, "pool_io_stats"); err != nil {
		return nil, err
	}
	if r.DiskIOStats, err = Table[DiskIOStatRecord](s, "disk_io_stats"); err != nil {
		return nil, err
	}
	if r.ARCStats, err = Table[ARCStatsRecord](s, "arc_stats"); err != nil {
		return nil, err
	}
	if r.HostInfo, err = Table[HostInfo](s, "host_info"); err != nil {
		return nil, err
	}

	return &r, nil
}
