// Package newsletter はニュースレター（配信元）の特定と一覧を提供する。
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/repository"
)

// maxResolveAttempts は同時作成による一意制約違反時の再取得回数の上限。
const maxResolveAttempts = 3

// ErrUnidentifiableSender は送信元アドレスも名前も得られずニュースレターを特定できないことを表す。
var ErrUnidentifiableSender = errors.New("ニュースレターの送信元を特定できません")

// Observed は受信メールから観測したニュースレターの属性。
type Observed struct {
	SenderEmail string
	Name        string
	Frequency   model.Frequency
}

// Resolver は受信メールの送信元からニュースレターを特定し、未知であれば作成する。
// 送信元アドレスを第一キー、名前を第二キーとして検索する。
type Resolver struct {
	repo repository.NewsletterRepository
	now  func() time.Time
}

// NewResolver はResolverを生成する。
func NewResolver(repo repository.NewsletterRepository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// Resolve はニュースレターを返す。新規作成した場合はtrueを返す。
// 並行する取り込みが同じニュースレターを先に作成した場合は、作成済みの行を再取得して返す。
func (r *Resolver) Resolve(ctx context.Context, obs Observed) (*model.Newsletter, bool, error) {
	sender := NormalizeSender(obs.SenderEmail)
	name := strings.TrimSpace(obs.Name)
	if name == "" {
		name = sender
	}
	if name == "" {
		return nil, false, ErrUnidentifiableSender
	}

	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		existing, err := r.lookup(ctx, sender, name)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}

		now := r.now()
		nl := &model.Newsletter{
			ID:           uuid.New().String(),
			Name:         name,
			SenderEmail:  sender,
			SenderDomain: senderDomain(sender),
			Frequency:    normalizeFrequency(obs.Frequency),
			IsActive:     true,
			IsPredefined: false,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err = r.repo.Create(ctx, nl)
		if err == nil {
			slog.Info("新しいニュースレターを登録しました",
				slog.String("newsletter_id", nl.ID),
				slog.String("name", nl.Name),
				slog.String("sender_email", nl.SenderEmail),
			)
			return nl, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("ニュースレターの作成に失敗しました: %w", err)
		}

		slog.Info("ニュースレターの同時作成を検出したため再取得します",
			slog.String("sender_email", sender),
			slog.String("name", name),
			slog.Int("attempt", attempt),
		)
	}

	return nil, false, fmt.Errorf("ニュースレターの特定に失敗しました（%d回再試行）: %w", maxResolveAttempts, repository.ErrDuplicate)
}

func (r *Resolver) lookup(ctx context.Context, sender, name string) (*model.Newsletter, error) {
	if sender != "" {
		nl, err := r.repo.FindBySenderEmail(ctx, sender)
		if err != nil {
			return nil, err
		}
		if nl != nil {
			return nl, nil
		}
	}
	return r.repo.FindByName(ctx, name)
}

// NormalizeSender は "Name <addr>" 形式も含む送信元を小文字のアドレスに正規化する。
func NormalizeSender(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		s = addr.Address
	}
	return strings.ToLower(s)
}

func senderDomain(sender string) string {
	at := strings.LastIndexByte(sender, '@')
	if at < 0 {
		return ""
	}
	return sender[at+1:]
}

func normalizeFrequency(f model.Frequency) model.Frequency {
	switch model.Frequency(strings.ToLower(strings.TrimSpace(string(f)))) {
	case model.FrequencyDaily:
		return model.FrequencyDaily
	case model.FrequencyWeekly:
		return model.FrequencyWeekly
	case model.FrequencyMonthly:
		return model.FrequencyMonthly
	default:
		return model.DefaultFrequency
	}
}
