package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/promo_credit_server/internal/model"
	"github.com/qs3c/promo_credit_server/internal/pkg/pubsub"
	"github.com/qs3c/promo_credit_server/internal/testutil"
)

func TestLedgerService_AppendEntry(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	ctx := context.Background()
	org, _ := env.fundedOrg(t, 0)

	entry, replayed, err := env.ledger.AppendEntry(ctx, &EntryInput{
		OrganizationID: org.ID,
		Amount:         100,
		Kind:           model.CreditKindAdjustment,
		IdempotencyKey: "grant:1",
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(100), entry.BalanceAfter)

	entry, replayed, err = env.ledger.AppendEntry(ctx, &EntryInput{
		OrganizationID: org.ID,
		Amount:         -30,
		Kind:           model.CreditKindPurchase,
		IdempotencyKey: "debit:1",
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(70), entry.BalanceAfter)

	balance, err := env.ledger.GetBalance(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
}

func TestLedgerService_AppendEntry_Replay(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	ctx := context.Background()
	org, _ := env.fundedOrg(t, 50)

	in := &EntryInput{
		OrganizationID: org.ID,
		Amount:         -20,
		Kind:           model.CreditKindPurchase,
		IdempotencyKey: "debit:once",
	}

	first, replayed, err := env.ledger.AppendEntry(ctx, in)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := env.ledger.AppendEntry(ctx, in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(30), second.BalanceAfter)

	assert.Equal(t, int64(30), env.balance(t, org.ID))
	assert.Len(t, env.entries(t, org.ID), 2)
}

func TestLedgerService_AppendEntry_InsufficientCredits(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	org, _ := env.fundedOrg(t, 10)

	_, _, err := env.ledger.AppendEntry(context.Background(), &EntryInput{
		OrganizationID: org.ID,
		Amount:         -11,
		Kind:           model.CreditKindPurchase,
		IdempotencyKey: "debit:too-much",
	})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), insufficient.Balance)
	assert.Equal(t, int64(11), insufficient.Required)

	assert.Equal(t, int64(10), env.balance(t, org.ID))
	assert.Len(t, env.entries(t, org.ID), 1)
}

func TestLedgerService_AppendEntry_ExactBalance(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	org, _ := env.fundedOrg(t, 40)

	entry, _, err := env.ledger.AppendEntry(context.Background(), &EntryInput{
		OrganizationID: org.ID,
		Amount:         -40,
		Kind:           model.CreditKindPurchase,
		IdempotencyKey: "debit:all",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.BalanceAfter)
}

func TestLedgerService_AppendEntry_RequiresKey(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	org, _ := env.fundedOrg(t, 0)

	_, _, err := env.ledger.AppendEntry(context.Background(), &EntryInput{
		OrganizationID: org.ID,
		Amount:         5,
		Kind:           model.CreditKindAdjustment,
	})
	assert.Error(t, err)
	assert.Empty(t, env.entries(t, org.ID))
}

func TestLedgerService_AppendEntry_PublishesEvent(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)

	env, cleanup := setupServices(t, withPublisher(pubsub.NewPublisher(client)))
	defer cleanup()

	ctx := context.Background()
	org, _ := env.fundedOrg(t, 0)

	sub := client.Subscribe(ctx, pubsub.ChannelLedgerEvents)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	in := &EntryInput{
		OrganizationID: org.ID,
		Amount:         25,
		Kind:           model.CreditKindAdjustment,
		IdempotencyKey: "grant:event",
	}
	entry, _, err := env.ledger.AppendEntry(ctx, in)
	require.NoError(t, err)

	msg, err := sub.ReceiveTimeout(ctx, 2*time.Second)
	require.NoError(t, err)
	redisMsg, ok := msg.(*redis.Message)
	require.True(t, ok)

	var event pubsub.LedgerEvent
	require.NoError(t, json.Unmarshal([]byte(redisMsg.Payload), &event))
	assert.Equal(t, pubsub.EventLedgerEntry, event.Type)
	assert.Equal(t, entry.ID, event.TransactionID)
	assert.Equal(t, int64(25), event.BalanceAfter)

	// 重放不再发布
	_, replayed, err := env.ledger.AppendEntry(ctx, in)
	require.NoError(t, err)
	require.True(t, replayed)

	_, err = sub.ReceiveTimeout(ctx, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestLedgerService_Adjust(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	ctx := context.Background()
	org, sponsor := env.fundedOrg(t, 0)
	admin := testutil.TestUser(t, env.db, testutil.WithRole(model.RoleAdmin))

	entry, replayed, err := env.ledger.Adjust(ctx, &AdjustInput{
		OrganizationID: org.ID,
		Amount:         100,
		Reason:         "monthly grant",
		RequestID:      "grant-2026-03",
		CallerID:       admin.ID,
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, model.CreditKindAdjustment, entry.Kind)
	assert.Equal(t, "adjust:grant-2026-03", entry.IdempotencyKey)
	assert.Equal(t, admin.ID, entry.CreatedBy)

	// 相同请求号重放
	_, replayed, err = env.ledger.Adjust(ctx, &AdjustInput{
		OrganizationID: org.ID,
		Amount:         100,
		Reason:         "monthly grant",
		RequestID:      "grant-2026-03",
		CallerID:       admin.ID,
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, int64(100), env.balance(t, org.ID))

	t.Run("sponsor is forbidden", func(t *testing.T) {
		_, _, err := env.ledger.Adjust(ctx, &AdjustInput{
			OrganizationID: org.ID, Amount: 5, RequestID: "r1", CallerID: sponsor.ID,
		})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, _, err := env.ledger.Adjust(ctx, &AdjustInput{
			OrganizationID: org.ID, Amount: 0, RequestID: "r2", CallerID: admin.ID,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("unknown organization", func(t *testing.T) {
		_, _, err := env.ledger.Adjust(ctx, &AdjustInput{
			OrganizationID: 99999, Amount: 5, RequestID: "r3", CallerID: admin.ID,
		})
		assert.ErrorIs(t, err, ErrOrganizationNotFound)
	})

	t.Run("cannot drive balance negative", func(t *testing.T) {
		_, _, err := env.ledger.Adjust(ctx, &AdjustInput{
			OrganizationID: org.ID, Amount: -101, RequestID: "r4", CallerID: admin.ID,
		})
		assert.ErrorIs(t, err, ErrInsufficientCredits)
	})

	t.Run("unknown caller", func(t *testing.T) {
		_, _, err := env.ledger.Adjust(ctx, &AdjustInput{
			OrganizationID: org.ID, Amount: 5, RequestID: "r5", CallerID: 99999,
		})
		assert.ErrorIs(t, err, ErrCallerUnknown)
	})

	assert.Equal(t, int64(100), env.balance(t, org.ID))
}

func TestLedgerService_Adjust_RequiresRequestID(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	ctx := context.Background()
	org, _ := env.fundedOrg(t, 0)
	admin := testutil.TestUser(t, env.db, testutil.WithRole(model.RoleAdmin))

	for _, requestID := range []string{"", "   "} {
		_, _, err := env.ledger.Adjust(ctx, &AdjustInput{
			OrganizationID: org.ID, Amount: 50, Reason: "grant", RequestID: requestID, CallerID: admin.ID,
		})
		assert.ErrorIs(t, err, ErrInvalidRequestID)
		assert.True(t, IsDomainError(err))
	}

	// 两次不同请求号的调整都应入账
	for i, amount := range []int64{50, 70} {
		_, replayed, err := env.ledger.Adjust(ctx, &AdjustInput{
			OrganizationID: org.ID, Amount: amount, Reason: "grant", RequestID: fmt.Sprintf("grant-%d", i), CallerID: admin.ID,
		})
		require.NoError(t, err)
		assert.False(t, replayed)
	}
	assert.Equal(t, int64(120), env.balance(t, org.ID))
	assert.Len(t, env.entries(t, org.ID), 2)
}

func TestLedgerService_Balance(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	ctx := context.Background()
	org, sponsor := env.fundedOrg(t, 75)
	outsider, _ := env.fundedOrg(t, 0)
	member := testutil.TestUser(t, env.db, testutil.WithOrganization(org.ID))

	balance, err := env.ledger.Balance(ctx, org.ID, sponsor.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance)

	_, err = env.ledger.Balance(ctx, outsider.ID, sponsor.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.ledger.Balance(ctx, org.ID, member.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestLedgerService_ListTransactions(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	ctx := context.Background()
	org, sponsor := env.fundedOrg(t, 10)
	testutil.TestCredit(t, env.db, org.ID, 20)
	testutil.TestCredit(t, env.db, org.ID, 30)

	entries, total, err := env.ledger.ListTransactions(ctx, org.ID, sponsor.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(60), entries[0].BalanceAfter)
	assert.Equal(t, int64(30), entries[1].BalanceAfter)
}

func TestLedgerService_RecordsMetrics(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()

	org, _ := env.fundedOrg(t, 0)
	admin := testutil.TestUser(t, env.db, testutil.WithRole(model.RoleAdmin))

	_, _, err := env.ledger.Adjust(context.Background(), &AdjustInput{
		OrganizationID: org.ID, Amount: 5, RequestID: "m1", CallerID: admin.ID,
	})
	require.NoError(t, err)

	families, err := env.registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["promo_credit_operations_total"])
	assert.True(t, names["promo_credit_credits_total"])
}
