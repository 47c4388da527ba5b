package repository

import (
	"context"
	"errors"

	"github.com/jhomra21/canvaschat/internal/domain"
	"github.com/jhomra21/canvaschat/internal/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresMessageLog persists the message log in a single keyed table.
type PostgresMessageLog struct {
	db *gorm.DB
}

func NewPostgresMessageLog(db *gorm.DB) *PostgresMessageLog {
	return &PostgresMessageLog{db: db}
}

func (l *PostgresMessageLog) Put(ctx context.Context, namespace string, msg *domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("message is nil")
	}

	entry := toModelEntry(namespace, msg)

	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, UpdateAll: true}).
		Create(entry).Error
}

func (l *PostgresMessageLog) Newest(ctx context.Context, namespace string, limit int) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []model.LogEntry
	err := l.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("key DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	// Reverse the suffix scan back into chronological order.
	result := make([]*domain.ChatMessage, len(entries))
	for i, entry := range entries {
		result[len(entries)-1-i] = toDomainMessage(&entry)
	}
	return result, nil
}

func (l *PostgresMessageLog) Prune(ctx context.Context, namespace string, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var cutoff model.LogEntry
	err := l.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("key DESC").
		Offset(keep - 1).
		First(&cutoff).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	res := l.db.WithContext(ctx).
		Where("namespace = ? AND key < ?", namespace, cutoff.Key).
		Delete(&model.LogEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (l *PostgresMessageLog) NewestTimestamp(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var entry model.LogEntry
	err := l.db.WithContext(ctx).
		Order("timestamp DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNoMessages
		}
		return 0, err
	}
	return entry.Timestamp, nil
}

func toModelEntry(namespace string, msg *domain.ChatMessage) *model.LogEntry {
	return &model.LogEntry{
		Key:       EncodeKey(namespace, msg.Timestamp),
		Namespace: namespace,
		MessageID: msg.ID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		UserImage: msg.UserImage,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Type:      string(msg.Type),
	}
}

func toDomainMessage(entry *model.LogEntry) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:        entry.MessageID,
		UserID:    entry.UserID,
		UserName:  entry.UserName,
		UserImage: entry.UserImage,
		Content:   entry.Content,
		Timestamp: entry.Timestamp,
		Type:      domain.MessageType(entry.Type),
	}
}
