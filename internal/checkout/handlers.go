package checkout

import (
	"context"
	"fmt"
	"strconv"

	"github.com/angelmondragon/storefront-core/internal/balance"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/internal/tenants"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/money"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"github.com/angelmondragon/storefront-core/pkg/outbox/payloads"
	"gorm.io/gorm"
)

const idAttempts = 3

const gatewaySetupText = "⚠️ Payment toko belum siap\n\nToko ini belum mengatur Pakasir (slug & api key).\nCheckout diblokir agar tidak memakai payment admin.\n\nSilakan hubungi owner toko untuk set payment."

func (m *Machine) selectVariant(ctx context.Context, sess *Session, in Input) (Reply, error) {
	variant, available, err := m.loadVariant(ctx, sess.TenantID, in.VariantID)
	if err != nil {
		return Reply{}, err
	}
	if available <= 0 {
		return Reply{}, pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("Stok %s sedang kosong.", variant.Name))
	}
	sess.State = StateAwaitingQuantity
	sess.VariantID = variant.ID
	sess.OrderID = ""
	return Reply{Text: fmt.Sprintf("✅ Varian dipilih:\n%s\nHarga: %s\nStok: %d\n\nPilih qty:",
		variant.Name, money.FormatRupiah(variant.Price), available)}, nil
}

func (m *Machine) enterQuantity(ctx context.Context, sess *Session, in Input) (Reply, error) {
	qty := in.Qty
	if qty <= 0 {
		return Reply{}, pkgerrors.New(pkgerrors.CodeValidation, "Qty tidak valid. Contoh: 3")
	}
	if qty > m.cfg.MaxQty {
		return Reply{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Maksimal qty %d.", m.cfg.MaxQty))
	}
	variant, available, err := m.loadVariant(ctx, sess.TenantID, sess.VariantID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			sess.reset()
		}
		return Reply{}, err
	}
	if int64(qty) > available {
		return Reply{}, pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("Qty melebihi stok. Stok tersedia: %d", available)).
			WithDetails(map[string]any{"available": available, "requested": qty})
	}
	if blocked, err := m.gatewayBlocked(ctx, sess); blocked || err != nil {
		return blockedReply(), err
	}

	total := int64(qty) * variant.Price
	variantID := variant.ID
	orderID, err := m.claimID(ctx, sess.UserID, OrderID, func(id string) error {
		_, err := m.orders.CreateOrder(ctx, orders.CreateOrderInput{
			TenantID:  sess.TenantID,
			UserID:    sess.UserID,
			Kind:      enums.OrderKindProduct,
			VariantID: &variantID,
			Qty:       qty,
			OrderID:   id,
			Amount:    total,
			Total:     total,
		})
		return err
	}, m.orderOwner)
	if err != nil {
		return Reply{}, err
	}
	bal, err := m.balance.GetBalance(ctx, sess.TenantID, sess.UserID)
	if err != nil {
		return Reply{}, err
	}

	sess.State = StateAwaitingPaymentMethod
	sess.OrderID = orderID
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{"order_id": orderID, "qty": qty, "total": total}), "checkout order created")
	return Reply{Text: fmt.Sprintf("🧾 KONFIRMASI PEMBAYARAN\n\nInvoice: %s\nProduk: %s x%d\n\n💰 Saldo: %s\n💵 Total: %s\n\nPilih metode pembayaran:",
		orderID, variant.Name, qty, money.FormatRupiah(bal), money.FormatRupiah(total))}, nil
}

// payBalance debits the buyer and marks the order paid in one transaction,
// then fulfills. Stock is checked first so a buyer is not charged for an
// empty shelf; a race lost after the debit ends in the undeliverable flag.
func (m *Machine) payBalance(ctx context.Context, sess *Session, _ Input) (Reply, error) {
	order, err := m.pendingOrder(ctx, sess)
	if err != nil {
		return Reply{}, err
	}
	if order.Kind != enums.OrderKindProduct || order.VariantID == nil {
		return Reply{}, pkgerrors.New(pkgerrors.CodeValidation, "Metode saldo hanya untuk produk.")
	}
	available, err := m.inventory.CountAvailable(ctx, order.TenantID, *order.VariantID)
	if err != nil {
		return Reply{}, err
	}
	if available < int64(order.Qty) {
		return Reply{}, pkgerrors.New(pkgerrors.CodeInsufficientStock,
			fmt.Sprintf("Stok tidak cukup.\nStok tersedia: %d\nDiminta: %d", available, order.Qty))
	}

	ctx = m.logg.WithOrderID(ctx, order.OrderID)
	now := m.now().UTC()
	err = m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := m.balance.DeductBalanceTx(ctx, tx, balance.Mutation{
			TenantID:  order.TenantID,
			UserID:    order.UserID,
			Amount:    order.Total,
			Reason:    enums.BalanceReasonPurchase,
			Reference: order.OrderID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient balance")
		}
		changed, err := m.orders.WithTx(tx).SetPaid(ctx, order.OrderID, enums.PayMethodBalance)
		if err != nil {
			return err
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "Order sudah diproses.")
		}
		return m.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.OrderID,
			Actor:         &outbox.ActorRef{TenantID: order.TenantID, UserID: order.UserID, Role: "buyer"},
			Data: payloads.OrderPaidEvent{
				OrderID:   order.OrderID,
				TenantID:  order.TenantID,
				UserID:    order.UserID,
				Kind:      order.Kind,
				Total:     order.Total,
				PayMethod: enums.PayMethodBalance,
				PaidAt:    now,
			},
			OccurredAt: now,
		})
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds) {
		bal, balErr := m.balance.GetBalance(ctx, order.TenantID, order.UserID)
		if balErr != nil {
			return Reply{}, balErr
		}
		return Reply{}, pkgerrors.New(pkgerrors.CodeInsufficientFunds, fmt.Sprintf(
			"SALDO TIDAK CUKUP\n\nSaldo: %s\nTotal: %s\n\nSilakan deposit saldo terlebih dahulu.",
			money.FormatRupiah(bal), money.FormatRupiah(order.Total)))
	}
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			sess.reset()
		}
		return Reply{}, err
	}
	sess.reset()
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{"event": "order_paid", "pay_method": enums.PayMethodBalance, "total": order.Total}), "order paid")

	outcome, err := m.fulfillment.Fulfill(ctx, order.OrderID)
	if err != nil {
		m.logg.Error(ctx, "fulfillment after balance payment failed", err)
		return Reply{Text: fmt.Sprintf("✅ Pembayaran diterima.\nInvoice: %s\n\nPengiriman sedang diproses. Hubungi admin bila produk belum diterima.", order.OrderID)}, nil
	}
	bal, err := m.balance.GetBalance(ctx, order.TenantID, order.UserID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text: fmt.Sprintf("✅ PEMBAYARAN VIA SALDO BERHASIL\n\nInvoice: %s\nTotal: %s\nSaldo tersisa: %s",
			order.OrderID, money.FormatRupiah(order.Total), money.FormatRupiah(bal)),
		Outcome: outcome,
	}, nil
}

func (m *Machine) payQRIS(ctx context.Context, sess *Session, _ Input) (Reply, error) {
	order, err := m.pendingOrder(ctx, sess)
	if err != nil {
		return Reply{}, err
	}
	inv, err := m.charge(ctx, settlement.KindOrder, order.TenantID, order.OrderID, order.Total)
	if err != nil {
		return Reply{}, err
	}
	sess.State = StateAwaitingPayment
	return Reply{Text: settlement.InvoiceCaption(inv.OrderID, inv.Amount, m.cfg.InvoiceTTL), Invoice: inv}, nil
}

func (m *Machine) checkPayment(ctx context.Context, sess *Session, _ Input) (Reply, error) {
	if sess.State == StateAwaitingDepositPayment {
		return m.checkDeposit(ctx, sess)
	}
	res, err := m.payments.SettleOrder(ctx, sess.OrderID)
	if err != nil {
		return Reply{}, err
	}
	switch {
	case res.Busy:
		return Reply{Text: "⏳ Pembayaran sedang diproses. Coba cek lagi sebentar."}, nil
	case res.Paid:
		orderID := sess.OrderID
		sess.reset()
		return Reply{Text: fmt.Sprintf("✅ Pembayaran diterima.\nInvoice: %s", orderID), Outcome: res.Outcome}, nil
	}
	order, err := m.orders.GetOrder(ctx, sess.OrderID)
	if err != nil {
		return Reply{}, err
	}
	if order.Status == enums.OrderStatusExpired {
		sess.reset()
		return Reply{Text: fmt.Sprintf("⌛ Invoice %s sudah kedaluwarsa. Silakan buat invoice baru.", order.OrderID)}, nil
	}
	return Reply{Text: notPaidText(order.OrderID, res)}, nil
}

func (m *Machine) checkDeposit(ctx context.Context, sess *Session) (Reply, error) {
	res, err := m.payments.SettleDeposit(ctx, sess.OrderID)
	if err != nil {
		return Reply{}, err
	}
	switch {
	case res.Busy:
		return Reply{Text: "⏳ Pembayaran sedang diproses. Coba cek lagi sebentar."}, nil
	case res.Paid:
		depositID := sess.OrderID
		sess.reset()
		bal, err := m.balance.GetBalance(ctx, sess.TenantID, sess.UserID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("✅ Deposit diterima.\nInvoice: %s\nSaldo: %s", depositID, money.FormatRupiah(bal))}, nil
	}
	deposit, err := m.orders.GetDeposit(ctx, sess.OrderID)
	if err != nil {
		return Reply{}, err
	}
	if deposit.Status == enums.DepositStatusExpired {
		sess.reset()
		return Reply{Text: fmt.Sprintf("⌛ Invoice %s sudah kedaluwarsa. Silakan buat invoice baru.", deposit.OrderID)}, nil
	}
	return Reply{Text: notPaidText(deposit.OrderID, res)}, nil
}

func (m *Machine) startDeposit(ctx context.Context, sess *Session, in Input) (Reply, error) {
	if in.Amount < m.cfg.MinDeposit {
		return Reply{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Minimal deposit %s.", money.FormatRupiah(m.cfg.MinDeposit)))
	}
	if blocked, err := m.gatewayBlocked(ctx, sess); blocked || err != nil {
		return blockedReply(), err
	}
	depositID, err := m.claimID(ctx, sess.UserID, DepositID, func(id string) error {
		_, err := m.orders.CreateDeposit(ctx, orders.CreateDepositInput{
			TenantID: sess.TenantID,
			UserID:   sess.UserID,
			OrderID:  id,
			Amount:   in.Amount,
		})
		return err
	}, m.depositOwner)
	if err != nil {
		return Reply{}, err
	}
	inv, err := m.charge(ctx, settlement.KindDeposit, sess.TenantID, depositID, in.Amount)
	if err != nil {
		return Reply{}, err
	}
	sess.State = StateAwaitingDepositPayment
	sess.OrderID = depositID
	return Reply{Text: settlement.InvoiceCaption(inv.OrderID, inv.Amount, m.cfg.InvoiceTTL), Invoice: inv}, nil
}

// startRent sells a storefront rental. Rentals are paid to the admin store
// and only by QRIS.
func (m *Machine) startRent(ctx context.Context, sess *Session, in Input) (Reply, error) {
	price, ok := m.rent.PriceFor(in.Months)
	if !ok || price <= 0 {
		return Reply{}, pkgerrors.New(pkgerrors.CodeValidation, "Paket sewa tidak tersedia. Pilih 1, 3 atau 12 bulan.")
	}
	rentID, err := m.claimID(ctx, sess.UserID, RentID, func(id string) error {
		return m.tx.WithTx(ctx, func(tx *gorm.DB) error {
			store := m.orders.WithTx(tx)
			if _, err := store.CreateRent(ctx, orders.CreateRentInput{
				UserID:  sess.UserID,
				Plan:    strconv.Itoa(in.Months) + "M",
				Months:  in.Months,
				Price:   price,
				OrderID: id,
			}); err != nil {
				return err
			}
			_, err := store.CreateOrder(ctx, orders.CreateOrderInput{
				TenantID: tenants.AdminTenantID,
				UserID:   sess.UserID,
				Kind:     enums.OrderKindRent,
				Qty:      1,
				OrderID:  id,
				Amount:   price,
				Total:    price,
			})
			return err
		})
	}, m.orderOwner)
	if err != nil {
		return Reply{}, err
	}
	inv, err := m.charge(ctx, settlement.KindOrder, tenants.AdminTenantID, rentID, price)
	if err != nil {
		return Reply{}, err
	}
	sess.State = StateAwaitingPayment
	sess.OrderID = rentID
	return Reply{Text: settlement.InvoiceCaption(inv.OrderID, inv.Amount, m.cfg.InvoiceTTL), Invoice: inv}, nil
}

// cancel abandons the conversation. An order that never got a QR is expired
// right away; an issued invoice is left to the expiry sweeper because the
// buyer may already have paid it.
func (m *Machine) cancel(ctx context.Context, sess *Session) (Reply, error) {
	if sess.State == StateAwaitingPaymentMethod && sess.OrderID != "" {
		if err := m.expireUnissued(ctx, sess.OrderID); err != nil {
			return Reply{}, err
		}
	}
	sess.reset()
	return Reply{Text: "❌ Dibatalkan."}, nil
}

func (m *Machine) expireUnissued(ctx context.Context, orderID string) error {
	order, err := m.orders.GetOrder(ctx, orderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	now := m.now().UTC()
	return m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := m.orders.WithTx(tx).SetExpired(ctx, orderID)
		if err != nil || !changed {
			return err
		}
		return m.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{TenantID: order.TenantID, UserID: order.UserID, Role: "buyer"},
			Data: payloads.OrderExpiredEvent{
				OrderID:   orderID,
				TenantID:  order.TenantID,
				UserID:    order.UserID,
				Total:     order.Total,
				ExpiredAt: now,
			},
			OccurredAt: now,
		})
	})
}

// charge opens a QRIS transaction with the tenant's gateway account.
func (m *Machine) charge(ctx context.Context, kind settlement.Kind, tenantID int64, orderID string, amount int64) (*Invoice, error) {
	creds, ok, err := m.accounts.GatewayCredentials(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "Pakasir belum dikonfigurasi.")
	}
	created, err := m.gateway.CreateQRIS(ctx, creds, orderID, amount)
	if err != nil {
		m.logg.Error(m.logg.WithOrderID(ctx, orderID), "create qris failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "Gagal membuat QRIS. Silakan coba lagi.")
	}
	inv := &Invoice{
		Kind:         kind,
		OrderID:      orderID,
		Amount:       amount,
		TotalPayment: created.TotalPayment,
		QRString:     created.PaymentNumber,
		PayURL:       m.gateway.PayURL(creds, amount, orderID),
		ExpiresAt:    m.now().UTC().Add(m.cfg.InvoiceTTL),
	}
	if inv.TotalPayment <= 0 {
		inv.TotalPayment = amount
	}
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{"order_id": orderID, "kind": kind, "amount": amount}), "qris invoice created")
	return inv, nil
}

// claimID creates a row under a fresh id. Ids are time based, so another
// process may have taken the same one; create is idempotent on the id, and
// ownership is verified before the id is handed to the buyer.
func (m *Machine) claimID(
	ctx context.Context,
	userID int64,
	format func(int64) string,
	create func(id string) error,
	owner func(ctx context.Context, id string) (int64, error),
) (string, error) {
	for attempt := 0; attempt < idAttempts; attempt++ {
		id := format(m.ids.next())
		if err := create(id); err != nil {
			return "", err
		}
		got, err := owner(ctx, id)
		if err != nil {
			return "", err
		}
		if got == userID {
			return id, nil
		}
		m.logg.Warn(m.logg.WithOrderID(ctx, id), "invoice id taken by another buyer; retrying")
	}
	return "", pkgerrors.New(pkgerrors.CodeConflict, "could not allocate invoice id")
}

func (m *Machine) orderOwner(ctx context.Context, id string) (int64, error) {
	order, err := m.orders.GetOrder(ctx, id)
	if err != nil {
		return 0, err
	}
	return order.UserID, nil
}

func (m *Machine) depositOwner(ctx context.Context, id string) (int64, error) {
	deposit, err := m.orders.GetDeposit(ctx, id)
	if err != nil {
		return 0, err
	}
	return deposit.UserID, nil
}

func (m *Machine) pendingOrder(ctx context.Context, sess *Session) (*models.Order, error) {
	order, err := m.orders.GetOrder(ctx, sess.OrderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			sess.reset()
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Order tidak ditemukan.")
		}
		return nil, err
	}
	if order.UserID != sess.UserID {
		sess.reset()
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Order tidak ditemukan.")
	}
	if order.Status != enums.OrderStatusPending {
		sess.reset()
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "Order sudah diproses.")
	}
	return order, nil
}

func (m *Machine) loadVariant(ctx context.Context, tenantID, variantID int64) (*models.Variant, int64, error) {
	if variantID <= 0 {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "Pilih varian terlebih dahulu.")
	}
	variant, err := m.inventory.GetVariant(ctx, tenantID, variantID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, 0, pkgerrors.New(pkgerrors.CodeNotFound, "Varian tidak ditemukan.")
		}
		return nil, 0, err
	}
	available, err := m.inventory.CountAvailable(ctx, tenantID, variant.ID)
	if err != nil {
		return nil, 0, err
	}
	return variant, available, nil
}

// gatewayBlocked applies the tenant guard: a storefront without its own
// gateway account cannot sell, and the conversation starts over.
func (m *Machine) gatewayBlocked(ctx context.Context, sess *Session) (bool, error) {
	needs, err := m.accounts.NeedsGatewaySetup(ctx, sess.TenantID)
	if err != nil {
		return false, err
	}
	if needs {
		sess.reset()
		m.logg.Warn(ctx, "checkout blocked; tenant gateway not configured")
	}
	return needs, nil
}

func blockedReply() Reply {
	return Reply{Text: gatewaySetupText, Rejected: true}
}

func notPaidText(orderID string, res settlement.Result) string {
	return fmt.Sprintf("⏳ Pembayaran belum terdeteksi.\nInvoice: %s\nStatus: %s", orderID, res.Status)
}
