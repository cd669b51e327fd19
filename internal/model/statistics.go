package model

type UserStatistics struct {
	TotalMailings      int `json:"total_mailings"`
	ActiveMailings     int `json:"active_mailings"`
	FinishedMailings   int `json:"finished_mailings"`
	TotalAttempts      int `json:"total_attempts"`
	SuccessfulAttempts int `json:"successful_attempts"`
	FailedAttempts     int `json:"failed_attempts"`
	TotalMessagesSent  int `json:"total_messages_sent"`
}

type Summary struct {
	TotalMailings    int `json:"total_mailings"`
	ActiveMailings   int `json:"active_mailings"`
	UniqueRecipients int `json:"unique_recipients"`
}

// MailingCounts is the per-status breakdown of a set of mailings.
type MailingCounts struct {
	Total    int `db:"total"`
	Started  int `db:"started"`
	Finished int `db:"finished"`
}
