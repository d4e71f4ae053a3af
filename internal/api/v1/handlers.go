package apiv1

import (
	"errors"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/memberloop/memberpay/app/models"
	"github.com/memberloop/memberpay/internal/pkg/billing"
	"github.com/memberloop/memberpay/internal/pkg/gateway"
	"github.com/memberloop/memberpay/internal/pkg/jobs"
	"github.com/memberloop/memberpay/internal/pkg/metrics/counter"
)

// APIServer carries the dependencies of the v1 handlers. It is constructed
// once in the composition root; handlers hold no global state.
type APIServer struct {
	manager  *jobs.Manager
	repo     billing.Repository
	adapter  *gateway.Adapter
	validate *validator.Validate
}

func NewAPIServer(manager *jobs.Manager, repo billing.Repository, adapter *gateway.Adapter) *APIServer {
	return &APIServer{
		manager:  manager,
		repo:     repo,
		adapter:  adapter,
		validate: validator.New(),
	}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// GetJobsStatus reports the job manager state, effective configuration and
// the accumulated renewal outcome counters.
func (s *APIServer) GetJobsStatus(c *fiber.Ctx) error {
	counters, err := counter.Snapshot()
	if err != nil {
		log.Errorf("[API] Failed to read renewal counters: %v", err)
		counters = map[string]int64{}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"manager":  s.manager.GetStatus(),
		"counters": counters,
	})
}

// PostRenewalRun triggers one renewal pass outside the schedule. A pass
// already in flight is reported as a conflict instead of running twice.
func (s *APIServer) PostRenewalRun(c *fiber.Ctx) error {
	result := s.manager.RunManually(c.Context())
	if result.InProgress {
		return c.Status(fiber.StatusConflict).JSON(result)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

type jobConfigRequest struct {
	EnableRenewalJob     *bool  `json:"enable_renewal_job"`
	CheckIntervalSeconds *int64 `json:"check_interval_seconds" validate:"omitempty,min=1"`
	DaysBeforeExpiry     *int   `json:"days_before_expiry" validate:"omitempty,min=0"`
	MaxRetryAttempts     *int   `json:"max_retry_attempts" validate:"omitempty,min=1"`
	RetryDelayMinutes    *int64 `json:"retry_delay_minutes" validate:"omitempty,min=1"`
}

// PatchJobsConfig applies a partial configuration update. Fields absent from
// the request stay unchanged; the running job observes the new values on its
// next pass without a restart.
func (s *APIServer) PatchJobsConfig(c *fiber.Ctx) error {
	var req jobConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	patch := jobs.ConfigPatch{
		EnableRenewalJob: req.EnableRenewalJob,
		DaysBeforeExpiry: req.DaysBeforeExpiry,
		MaxRetryAttempts: req.MaxRetryAttempts,
	}
	if req.CheckIntervalSeconds != nil {
		interval := time.Duration(*req.CheckIntervalSeconds) * time.Second
		patch.CheckInterval = &interval
	}
	if req.RetryDelayMinutes != nil {
		delay := time.Duration(*req.RetryDelayMinutes) * time.Minute
		patch.RetryDelay = &delay
	}

	updated := s.manager.UpdateConfig(patch)
	return c.Status(fiber.StatusOK).JSON(updated)
}

type checkoutRequest struct {
	UserID         uint   `json:"user_id" validate:"required"`
	SubscriptionID *uint  `json:"subscription_id"`
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	OrderInfo      string `json:"order_info" validate:"required"`
	BankCode       string `json:"bank_code"`
}

// PostPaymentCheckout creates a pending ledger row and returns the signed
// redirect URL for it. The transaction reference doubles as the gateway
// vnp_TxnRef so the return callback can find the row again.
func (s *APIServer) PostPaymentCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	txn := &models.PaymentTransaction{
		SubscriptionID: req.SubscriptionID,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       "VND",
		Method:         "vnpay",
		Type:           models.TransactionTypeSubscription,
		Status:         models.TransactionStatusPending,
	}
	if err := s.repo.CreateTransaction(txn); err != nil {
		log.Errorf("[API] Failed to create checkout transaction: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not create transaction"})
	}

	paymentURL, err := s.adapter.BuildPaymentURL(gateway.PaymentRequest{
		TxnRef:    txn.GatewayTxnRef,
		OrderInfo: req.OrderInfo,
		OrderType: "billpayment",
		Amount:    req.Amount,
		ClientIP:  c.IP(),
		BankCode:  req.BankCode,
	})
	if err != nil {
		log.Errorf("[API] Failed to build payment URL for txn %s: %v", txn.GatewayTxnRef, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not build payment URL"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"txn_ref":     txn.GatewayTxnRef,
		"payment_url": paymentURL,
	})
}

// GetPaymentReturn handles the browser redirect back from the gateway. The
// signature is checked before anything else; a failed check rejects the
// request without touching any state. A transaction already in a final state
// is reported as-is, duplicate redirects do not mutate it again.
func (s *APIServer) GetPaymentReturn(c *fiber.Ctx) error {
	params := url.Values{}
	c.Context().QueryArgs().VisitAll(func(key, val []byte) {
		params.Add(string(key), string(val))
	})

	result, err := s.adapter.ParseCallback(params)
	if err != nil {
		log.Errorf("[API] Rejected payment return callback: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid signature"})
	}

	txn, err := s.repo.GetTransactionByRef(result.TxnRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown transaction reference"})
		}
		log.Errorf("[API] Transaction lookup failed for ref %s: %v", result.TxnRef, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Transaction lookup failed"})
	}

	if txn.IsFinal() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"txn_ref": txn.GatewayTxnRef,
			"status":  txn.Status,
			"message": "Transaction already settled",
		})
	}

	if result.Success && result.Amount != txn.Amount {
		log.Errorf("[API] Amount mismatch on return callback for ref %s: got %d, want %d",
			result.TxnRef, result.Amount, txn.Amount)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Amount mismatch"})
	}

	rawResponse := string(c.Request().URI().QueryString())

	if result.Success {
		if err := s.repo.UpdateTransactionStatus(txn.ID, models.TransactionStatusCompleted, result.TransactionNo, rawResponse, ""); err != nil {
			log.Errorf("[API] Failed to complete transaction %d: %v", txn.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not update transaction"})
		}
		s.activatePendingSubscription(txn)
	} else {
		if err := s.repo.UpdateTransactionStatus(txn.ID, models.TransactionStatusFailed, result.TransactionNo, rawResponse, result.Message); err != nil {
			log.Errorf("[API] Failed to mark transaction %d failed: %v", txn.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not update transaction"})
		}
	}

	status := models.TransactionStatusCompleted
	if !result.Success {
		status = models.TransactionStatusFailed
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"txn_ref":       result.TxnRef,
		"status":        status,
		"response_code": result.ResponseCode,
		"message":       result.Message,
	})
}

// activatePendingSubscription flips a subscription awaiting its first
// payment to active once that payment settles. Subscriptions in any other
// state are left alone.
func (s *APIServer) activatePendingSubscription(txn *models.PaymentTransaction) {
	if txn.SubscriptionID == nil {
		return
	}
	sub, err := s.repo.GetSubscriptionByID(*txn.SubscriptionID)
	if err != nil {
		log.Errorf("[API] Subscription lookup failed for txn %d: %v", txn.ID, err)
		return
	}
	if sub.Status != models.SubscriptionStatusPendingPayment {
		return
	}
	sub.Status = models.SubscriptionStatusActive
	if err := s.repo.UpdateSubscription(sub); err != nil {
		log.Errorf("[API] Failed to activate subscription %d: %v", sub.ID, err)
	}
}
