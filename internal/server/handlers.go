// internal/server/handlers.go
package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"microloan-client/internal/common/payment"
	"microloan-client/internal/guard"
	"microloan-client/internal/models"
	"microloan-client/internal/views"
	"microloan-client/internal/workflows/application"
)

// viewMount ties a page load to the request: a client that goes away
// unmounts the view.
func viewMount(c *gin.Context) *views.Mount {
	return views.NewMount(c.Request.Context())
}

// render writes a page result. Loads dropped by an unmount write nothing.
func render(c *gin.Context, m *views.Mount, data interface{}, err error) {
	defer m.Unmount()
	if stderrors.Is(err, views.ErrUnmounted) {
		c.Abort()
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "", data)
}

// confirmation turns ?confirmed=true into an accepting confirmer. Without
// it the returned prompt holds the question that was declined.
func confirmation(c *gin.Context) (application.Confirmer, *string) {
	prompt := new(string)
	if ok, _ := strconv.ParseBool(c.Query("confirmed")); ok {
		return application.Confirmed, prompt
	}
	return application.ConfirmFunc(func(_ context.Context, p string) bool {
		*prompt = p
		return false
	}), prompt
}

func confirmationRequired(c *gin.Context, prompt string) {
	success(c, http.StatusOK, prompt, gin.H{"confirmationRequired": true, "prompt": prompt})
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "Invalid request body")
		return false
	}
	return true
}

// ==========================
// Public pages
// ==========================

func (s *Server) home(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.Home(m)
	render(c, m, v, err)
}

func (s *Server) allLoans(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	m := viewMount(c)
	v, err := s.views.AllLoans(m, page, c.Query("search"))
	render(c, m, v, err)
}

func (s *Server) loanDetails(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.LoanDetails(m, c.Param("id"), currentSession(c).User)
	render(c, m, v, err)
}

func (s *Server) applyForm(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.ApplyForm(m, c.Param("id"), currentSession(c).User)
	render(c, m, v, err)
}

func (s *Server) applySubmit(c *gin.Context) {
	var in models.ApplicationInput
	if !bind(c, &in) {
		return
	}
	app, to, err := s.views.SubmitApplication(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusCreated, "Application submitted successfully!", gin.H{"application": app, "redirectTo": to})
}

// ==========================
// Dashboard
// ==========================

func (s *Server) dashboard(c *gin.Context) {
	c.Redirect(http.StatusFound, guard.DashboardHome(currentSession(c).User.Role))
}

func (s *Server) profile(c *gin.Context) {
	success(c, http.StatusOK, "", s.views.Profile(currentSession(c).User))
}

// ==========================
// Admin
// ==========================

func (s *Server) manageUsers(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.ManageUsers(m, c.Query("search"))
	render(c, m, v, err)
}

func (s *Server) changeRole(c *gin.Context) {
	var body struct {
		Role models.Role `json:"role"`
	}
	if !bind(c, &body) {
		return
	}
	u, err := s.views.ChangeRole(c.Request.Context(), c.Param("id"), body.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Role updated successfully", u)
}

func (s *Server) suspendUser(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !bind(c, &body) {
		return
	}
	u, err := s.views.Suspend(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "User suspended successfully", u)
}

func (s *Server) activateUser(c *gin.Context) {
	u, err := s.views.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "User activated successfully", u)
}

func (s *Server) adminLoans(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.AdminLoans(m, c.Query("search"))
	render(c, m, v, err)
}

func (s *Server) toggleHome(c *gin.Context) {
	loan, err := s.views.ToggleHome(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Updated successfully", loan)
}

func (s *Server) loanApplications(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.LoanApplications(m, c.Query("status"))
	render(c, m, v, err)
}

// ==========================
// Manager
// ==========================

func (s *Server) addLoanForm(c *gin.Context) {
	success(c, http.StatusOK, "", gin.H{"loan": models.LoanDraftInput{}})
}

func (s *Server) addLoan(c *gin.Context) {
	var draft models.LoanDraftInput
	if !bind(c, &draft) {
		return
	}
	loan, to, err := s.views.AddLoan(c.Request.Context(), draft)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusCreated, "Loan created successfully!", gin.H{"loan": loan, "redirectTo": to})
}

func (s *Server) manageLoans(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.ManageLoans(m, c.Query("search"))
	render(c, m, v, err)
}

// deleteLoan serves both the manager and the admin delete.
func (s *Server) deleteLoan(c *gin.Context) {
	confirmer, prompt := confirmation(c)
	deleted, err := s.views.DeleteLoan(c.Request.Context(), c.Param("id"), confirmer)
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		confirmationRequired(c, *prompt)
		return
	}
	success(c, http.StatusOK, "Loan deleted successfully", gin.H{"deleted": true})
}

func (s *Server) pendingLoans(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.PendingApplications(m)
	render(c, m, v, err)
}

func (s *Server) approvedLoans(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.ApprovedApplications(m)
	render(c, m, v, err)
}

func (s *Server) approve(c *gin.Context) {
	app, err := s.views.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Application approved!", app)
}

func (s *Server) reject(c *gin.Context) {
	app, err := s.views.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Application rejected", app)
}

// ==========================
// Borrower
// ==========================

func (s *Server) myLoans(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.MyLoans(m)
	render(c, m, v, err)
}

func (s *Server) cancelApplication(c *gin.Context) {
	confirmer, prompt := confirmation(c)
	cancelled, err := s.views.CancelApplication(c.Request.Context(), c.Param("id"), confirmer)
	if err != nil {
		respondError(c, err)
		return
	}
	if !cancelled {
		confirmationRequired(c, *prompt)
		return
	}
	success(c, http.StatusOK, "Application cancelled", gin.H{"cancelled": true})
}

func (s *Server) payFee(c *gin.Context) {
	var method payment.Method
	if !bind(c, &method) {
		return
	}
	out, err := s.views.PayFee(c.Request.Context(), c.Param("id"), method)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Payment successful!", out)
}

func (s *Server) paymentDetails(c *gin.Context) {
	m := viewMount(c)
	v, err := s.views.PaymentDetails(m, c.Param("id"))
	render(c, m, v, err)
}

// ==========================
// Session API
// ==========================

func (s *Server) session(c *gin.Context) {
	success(c, http.StatusOK, "", currentSession(c))
}

func (s *Server) notifications(c *gin.Context) {
	success(c, http.StatusOK, "", s.queue.Drain())
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pendingLogins": s.pendingLogins()})
}
