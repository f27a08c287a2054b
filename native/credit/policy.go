package credit

import "creditra/crypto"

// Role checks run after the caller's proof of control has been verified at the
// transport boundary. Three capability classes exist: admin (suspend, default,
// risk updates, liquidity configuration, force-close), borrower (draw, repay,
// self-close at zero utilization) and admin-or-borrower (close). The issuer
// role coincides with admin in this deployment.

func (e *Engine) requireAdmin(caller crypto.Address) error {
	if e == nil || e.admin.IsZero() || !caller.Equal(e.admin) {
		return ErrNotAdmin
	}
	return nil
}

func (e *Engine) requireBorrower(caller, borrower crypto.Address) error {
	if caller.IsZero() || !caller.Equal(borrower) {
		return ErrNotBorrower
	}
	return nil
}

func (e *Engine) isAdmin(caller crypto.Address) bool {
	return !e.admin.IsZero() && caller.Equal(e.admin)
}
