package workflow_test

import (
	"strings"
	"testing"

	"nursery/internal/workflow"
	"nursery/models"

	"github.com/stretchr/testify/require"
)

func TestCheckMerchantTransition(t *testing.T) {
	require.NoError(t, workflow.CheckMerchantTransition(models.MerchantPending, models.MerchantApproved))
	require.NoError(t, workflow.CheckMerchantTransition(models.MerchantPending, models.MerchantRejected))
	require.NoError(t, workflow.CheckMerchantTransition(models.MerchantApproved, models.MerchantBlocked))
	require.NoError(t, workflow.CheckMerchantTransition(models.MerchantBlocked, models.MerchantApproved))

	require.ErrorIs(t, workflow.CheckMerchantTransition(models.MerchantApproved, models.MerchantApproved), workflow.ErrInvalidTransition)
	require.ErrorIs(t, workflow.CheckMerchantTransition(models.MerchantRejected, models.MerchantBlocked), workflow.ErrInvalidTransition)
	require.ErrorIs(t, workflow.CheckMerchantTransition("unknown", models.MerchantApproved), workflow.ErrInvalidTransition)
}

func TestCheckOrderTransition(t *testing.T) {
	require.NoError(t, workflow.CheckOrderTransition(models.OrderPending, models.OrderConfirmed))
	require.NoError(t, workflow.CheckOrderTransition(models.OrderConfirmed, models.OrderShipped))
	require.NoError(t, workflow.CheckOrderTransition(models.OrderShipped, models.OrderDelivered))
	require.NoError(t, workflow.CheckOrderTransition(models.OrderConfirmed, models.OrderCancelled))

	require.ErrorIs(t, workflow.CheckOrderTransition(models.OrderDelivered, models.OrderCancelled), workflow.ErrInvalidTransition)
	require.ErrorIs(t, workflow.CheckOrderTransition(models.OrderShipped, models.OrderCancelled), workflow.ErrInvalidTransition)
}

func TestCodes(t *testing.T) {
	q := workflow.NewQuotationCode()
	require.True(t, strings.HasPrefix(q, "Q-"))
	require.Len(t, q, 12)
	require.NotEqual(t, q, workflow.NewQuotationCode())

	require.True(t, strings.HasPrefix(workflow.NewMerchantCode(), "M-"))
	require.True(t, strings.HasPrefix(workflow.NewOrderCode(), "ORD-"))
}
