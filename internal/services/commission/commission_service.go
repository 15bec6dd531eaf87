package commission

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/config"
	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/ledger"
)

// ErrDoubleSettlement is a financial-invariant violation: something asked to
// post earnings for a referral that has already been settled. It must reach
// an operator, never be retried silently.
var ErrDoubleSettlement = errors.New("earnings already posted for this referral")

// Shares is the split of a job's referral bonus. Direct and Network are
// independent pools: the network bonus is not subtracted from the direct
// referrer's share.
type Shares struct {
	Direct      int64
	Network     int64
	PlatformCut int64
}

// ComputeShares splits bonus MMK between the direct referrer, the upstream
// referrer and the platform. Integer arithmetic, shares floored, so the
// platform cut absorbs the rounding remainder and nobody is over-credited.
func ComputeShares(bonus int64, platformPct, networkPct int) Shares {
	direct := bonus * int64(100-platformPct) / 100
	network := bonus * int64(networkPct) / 100
	return Shares{
		Direct:      direct,
		Network:     network,
		PlatformCut: bonus - direct,
	}
}

type Calculator struct {
	Ledger *ledger.Service

	PlatformCommissionPct int
	NetworkBonusPct       int
	SuccessFeeAmount      int64
}

func NewCalculator(l *ledger.Service, cfg config.Config) *Calculator {
	return &Calculator{
		Ledger:                l,
		PlatformCommissionPct: cfg.PlatformCommissionPct,
		NetworkBonusPct:       cfg.NetworkBonusPct,
		SuccessFeeAmount:      cfg.SuccessFeeAmount,
	}
}

// PostEarnings credits referrer balances for a hired referral and writes the
// corresponding ledger rows. Must run inside the transition engine's DB
// transaction, with the referral row locked and EarningsPosted still false —
// the engine flips the flag right after this returns.
//
// Created rows: one pending commission_payout per credited party, one
// success_fee and one platform_commission platform-revenue row (both
// completed immediately, there is nothing to settle externally).
func (c *Calculator) PostEarnings(tx *gorm.DB, ref *models.Referral, job *models.Job) error {
	if ref.EarningsPosted {
		return ErrDoubleSettlement
	}

	shares := ComputeShares(job.BonusAmount, c.PlatformCommissionPct, c.NetworkBonusPct)

	var referrer models.User
	if err := tx.Preload("ReferrerProfile").First(&referrer, "id = ?", ref.ReferrerID).Error; err != nil {
		return fmt.Errorf("load referrer %s: %w", ref.ReferrerID, err)
	}
	if referrer.ReferrerProfile == nil {
		return fmt.Errorf("referrer %s has no profile", ref.ReferrerID)
	}

	// 1. Direct share to the referrer's pending balance.
	if err := c.creditPending(tx, referrer.ID, shares.Direct, false); err != nil {
		return err
	}
	if err := tx.Model(&models.ReferrerProfile{}).
		Where("user_id = ?", referrer.ID).
		Update("direct_referrals", gorm.Expr("direct_referrals + ?", 1)).Error; err != nil {
		return err
	}

	if _, err := c.Ledger.CreateTransaction(tx, ledger.CreateParams{
		Type:            models.PaymentTypeCommissionPayout,
		Provider:        referrer.ReferrerProfile.PayoutProvider,
		Amount:          shares.Direct,
		RecipientID:     &referrer.ID,
		RecipientName:   referrer.Name,
		RecipientMSISDN: referrer.ReferrerProfile.PayoutMSISDN,
		ReferralID:      &ref.ID,
		OrderID:         ref.ID.String(),
	}); err != nil {
		return err
	}

	// 2. Network bonus to the upstream referrer, if the direct referrer was
	// themselves referred. Independent pool, not subtracted from the direct
	// share. Top of the lineage posts nothing here.
	if referrer.ReferredByID != nil && shares.Network > 0 {
		if err := c.postNetworkBonus(tx, *referrer.ReferredByID, shares.Network, ref.ID); err != nil {
			return err
		}
	}

	// 3. Platform revenue: success fee plus the withheld commission.
	if c.SuccessFeeAmount > 0 {
		if _, err := c.Ledger.CreateTransaction(tx, ledger.CreateParams{
			Type:       models.PaymentTypeSuccessFee,
			Provider:   models.ProviderBankTransfer,
			Amount:     c.SuccessFeeAmount,
			ReferralID: &ref.ID,
			OrderID:    ref.ID.String(),
			Status:     models.PaymentStatusCompleted,
		}); err != nil {
			return err
		}
	}
	if shares.PlatformCut > 0 {
		if _, err := c.Ledger.CreateTransaction(tx, ledger.CreateParams{
			Type:       models.PaymentTypePlatformCommission,
			Provider:   models.ProviderBankTransfer,
			Amount:     shares.PlatformCut,
			ReferralID: &ref.ID,
			OrderID:    ref.ID.String(),
			Status:     models.PaymentStatusCompleted,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (c *Calculator) postNetworkBonus(tx *gorm.DB, upstreamID uuid.UUID, amount int64, referralID uuid.UUID) error {
	var upstream models.User
	if err := tx.Preload("ReferrerProfile").First(&upstream, "id = ?", upstreamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// lineage points at a deleted/deactivated account, skip the bonus
			return nil
		}
		return err
	}
	if upstream.ReferrerProfile == nil {
		return nil
	}

	if err := c.creditPending(tx, upstream.ID, amount, true); err != nil {
		return err
	}

	_, err := c.Ledger.CreateTransaction(tx, ledger.CreateParams{
		Type:            models.PaymentTypeCommissionPayout,
		Provider:        upstream.ReferrerProfile.PayoutProvider,
		Amount:          amount,
		RecipientID:     &upstream.ID,
		RecipientName:   upstream.Name,
		RecipientMSISDN: upstream.ReferrerProfile.PayoutMSISDN,
		ReferralID:      &referralID,
		OrderID:         referralID.String(),
	})
	return err
}

// creditPending adds amount to a referrer's pending balance and lifetime
// earnings atomically. Network credits also bump the network earnings total.
func (c *Calculator) creditPending(tx *gorm.DB, userID uuid.UUID, amount int64, network bool) error {
	if amount <= 0 {
		return errors.New("amount to credit must be greater than zero")
	}

	updates := map[string]interface{}{
		"pending_balance": gorm.Expr("pending_balance + ?", amount),
		"total_earnings":  gorm.Expr("total_earnings + ?", amount),
	}
	if network {
		updates["network_earnings"] = gorm.Expr("network_earnings + ?", amount)
	}

	result := tx.Model(&models.ReferrerProfile{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("referrer profile not found for user %s", userID)
	}
	return nil
}
