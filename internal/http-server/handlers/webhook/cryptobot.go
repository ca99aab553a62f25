package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
)

func CryptoBot(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.With(
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			log.With(
				slog.Any("error", err),
			).Error("read request body")
			http.Error(w, "read", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("Crypto-Pay-Api-Signature")
		if !handler.CryptoBotVerifySignature(payload, sig) {
			log.Error("invalid webhook signature")
			http.Error(w, "signature", http.StatusBadRequest)
			return
		}
		log.Debug("cryptobot update received")

		handler.CryptoBotUpdate(context.Background(), payload)

		w.WriteHeader(http.StatusOK)
	}
}
