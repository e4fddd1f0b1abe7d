package models

// Settings holds user-editable runtime settings
type Settings struct {
	Port              int  `json:"port"`
	ResponseDelay     int  `json:"responseDelay"` // Default delay in ms for variants without their own
	AutoSaveEndpoints bool `json:"autoSaveEndpoints"`
	HistoryToast      bool `json:"historyToast"`
}

// DefaultSettings returns the settings used before anything is saved
func DefaultSettings() Settings {
	return Settings{
		Port:              8080,
		ResponseDelay:     0,
		AutoSaveEndpoints: true,
		HistoryToast:      true,
	}
}

// SettingsUpdate represents a partial settings update
type SettingsUpdate struct {
	Port              *int  `json:"port,omitempty"`
	ResponseDelay     *int  `json:"responseDelay,omitempty"`
	AutoSaveEndpoints *bool `json:"autoSaveEndpoints,omitempty"`
	HistoryToast      *bool `json:"historyToast,omitempty"`
}

// Apply copies the set fields of the update onto s
func (u *SettingsUpdate) Apply(s *Settings) {
	if u.Port != nil {
		s.Port = *u.Port
	}
	if u.ResponseDelay != nil {
		s.ResponseDelay = *u.ResponseDelay
	}
	if u.AutoSaveEndpoints != nil {
		s.AutoSaveEndpoints = *u.AutoSaveEndpoints
	}
	if u.HistoryToast != nil {
		s.HistoryToast = *u.HistoryToast
	}
}
