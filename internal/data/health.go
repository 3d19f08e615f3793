package data

// HealthStatus is a snapshot of dataset availability.
type HealthStatus struct {
	Datasets  map[DatasetKind]bool `json:"datasets"`
	AllLoaded bool                 `json:"all_loaded"`
}

// AnyLoaded reports whether at least one dataset is usable.
func (s HealthStatus) AnyLoaded() bool {
	for _, loaded := range s.Datasets {
		if loaded {
			return true
		}
	}
	return false
}
