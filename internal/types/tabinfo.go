package types

// TabInfo describes a brokerage tab the exporter is observing.
type TabInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	ShortID  string `json:"short_id"`
}
