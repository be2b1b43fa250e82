package models

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Profile{},
		&Connection{},
		&Interaction{},
		&AutopilotPreference{},
		&AutopilotSession{},
		&AutopilotActivity{},
		&FollowUp{},
		&UserProgress{},
		&Streak{},
		&Achievement{},
		&Reward{},
	}
}
