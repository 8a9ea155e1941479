package middleware

import (
	"net/http"
	"time"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/logger"
)

// RequireSubscription gates the portfolio surface behind an active or
// trialing subscription. The identity must already be on the context.
func RequireSubscription(users domain.UserRepository, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			user, err := users.Get(r.Context(), userID)
			if err != nil {
				log.WithError(err).Warn("failed to load user for subscription gate",
					"user_id", userID.String())
				http.Error(w, "failed to check subscription", http.StatusInternalServerError)
				return
			}
			if !user.HasAccess(time.Now().UTC()) {
				http.Error(w, "subscription required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
