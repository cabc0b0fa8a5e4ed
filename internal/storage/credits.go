package storage

import (
	"context"
	"errors"
	"fmt"

	"contact-radar/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetCredits 返回用户额度，未开户视为零额度。
func (s *Store) GetCredits(ctx context.Context, userID string) (model.UserCredits, error) {
	var c model.UserCredits
	err := s.db.WithContext(ctx).First(&c, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.UserCredits{UserID: userID}, nil
	}
	if err != nil {
		return c, fmt.Errorf("get credits: %w", err)
	}
	return c, nil
}

// ReserveCredits 原子扣减额度，余额不足返回 ErrInsufficientCredits。
func (s *Store) ReserveCredits(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	tx := s.db.WithContext(ctx).Model(&model.UserCredits{}).
		Where("user_id = ? AND available >= ?", userID, n).
		Updates(map[string]any{
			"available": gorm.Expr("available - ?", n),
			"used":      gorm.Expr("used + ?", n),
		})
	if tx.Error != nil {
		return fmt.Errorf("reserve credits: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// GrantCredits 增加用户额度，不存在则创建。
func (s *Store) GrantCredits(ctx context.Context, userID string, n int) error {
	row := model.UserCredits{UserID: userID, Available: n}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"available":  gorm.Expr("user_credits.available + ?", n),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&row)
	if tx.Error != nil {
		return fmt.Errorf("grant credits: %w", tx.Error)
	}
	return nil
}

// RefundCredits 归还预扣的额度。
func (s *Store) RefundCredits(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	tx := s.db.WithContext(ctx).Model(&model.UserCredits{}).Where("user_id = ?", userID).
		Updates(map[string]any{
			"available": gorm.Expr("available + ?", n),
			"used":      gorm.Expr("CASE WHEN used >= ? THEN used - ? ELSE 0 END", n, n),
		})
	if tx.Error != nil {
		return fmt.Errorf("refund credits: %w", tx.Error)
	}
	return nil
}
