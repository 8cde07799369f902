package task

import "github.com/Makr91/zoneweaver-api-sub001/internal/store"

// Stats is the payload for GET /tasks/stats: per-status and
// per-operation counts computed by a full bucket scan rather than a
// materialized counter, keeping the store free of trigger-like
// machinery.
type Stats struct {
	ByStatus    map[store.TaskStatus]int `json:"by_status"`
	ByOperation map[string]int           `json:"by_operation"`
	Total       int                      `json:"total"`
}

// ComputeStats scans every task and tallies it.
func ComputeStats(repo *store.Repo) (*Stats, error) {
	all, err := repo.Tasks.FindAllWhere(nil, nil)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		ByStatus:    map[store.TaskStatus]int{},
		ByOperation: map[string]int{},
	}

	for _, t := range all {
		s.ByStatus[t.Status]++
		s.ByOperation[t.Operation]++
		s.Total++
	}

	return s, nil
}
