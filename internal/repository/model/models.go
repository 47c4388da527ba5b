package model

type LogEntry struct {
	Key       string `gorm:"size:64;primaryKey"`
	Namespace string `gorm:"size:16;index;not null"`
	MessageID string `gorm:"size:64;not null"`
	UserID    string `gorm:"size:255;not null"`
	UserName  string `gorm:"size:255;not null"`
	UserImage string `gorm:"size:1024"`
	Content   string `gorm:"type:text;not null"`
	Timestamp int64  `gorm:"index;not null"`
	Type      string `gorm:"size:16;not null"`
}

func (LogEntry) TableName() string {
	return "chat_log"
}
