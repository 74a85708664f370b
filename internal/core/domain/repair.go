package domain

type Renumber struct {
	TableID int64 `json:"table_id"`
	From    int   `json:"from"`
	To      int   `json:"to"`
}

// SchoolPlan is the set of writes that brings one school's tables in line
// with its quota and its slice of the global numbering.
type SchoolPlan struct {
	School    School
	Delete    []Table
	Renumber  []Renumber
	Create    []int
	Allocated int
	Shortfall int
}

func (p SchoolPlan) Empty() bool {
	return len(p.Delete) == 0 && len(p.Renumber) == 0 && len(p.Create) == 0
}

// AppliedPlan is what the store reports back after executing a SchoolPlan.
type AppliedPlan struct {
	TalliesDeleted int
	AffectedKeys   []DistrictKey
}

type RepairStatus string

const (
	RepairOK              RepairStatus = "ok"
	RepairUnderQuotaLimit RepairStatus = "under_quota_limit"
	RepairWriteFailed     RepairStatus = "write_failed"
)

type SchoolRepair struct {
	SchoolID       int64        `json:"school_id"`
	Quota          int          `json:"quota"`
	TablesBefore   int          `json:"tables_before"`
	Renumbered     int          `json:"renumbered"`
	Created        int          `json:"created"`
	Deleted        int          `json:"deleted"`
	TalliesDeleted int          `json:"tallies_deleted"`
	FirstNumber    int          `json:"first_number"`
	LastNumber     int          `json:"last_number"`
	Shortfall      int          `json:"shortfall"`
	Status         RepairStatus `json:"status"`
	Error          string       `json:"error,omitempty"`
}

type RepairReport struct {
	SchoolsProcessed     int            `json:"schools_processed"`
	TablesRenumbered     int            `json:"tables_renumbered"`
	TablesCreated        int            `json:"tables_created"`
	TablesDeleted        int            `json:"tables_deleted"`
	TalliesDeleted       int            `json:"tallies_deleted"`
	AggregatesReconciled int            `json:"aggregates_reconciled"`
	Schools              []SchoolRepair `json:"schools"`
}

// UnderQuota returns the schools left short of their quota by the creation
// limit. Schools whose write failed are reported by Failed instead.
func (r RepairReport) UnderQuota() []SchoolRepair {
	return r.withStatus(RepairUnderQuotaLimit)
}

func (r RepairReport) Failed() []SchoolRepair {
	return r.withStatus(RepairWriteFailed)
}

func (r RepairReport) withStatus(status RepairStatus) []SchoolRepair {
	var out []SchoolRepair
	for _, s := range r.Schools {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}
