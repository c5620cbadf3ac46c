package signer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/pkg/eta"
)

// BusyPolicy qué hacer cuando otra llamada ya ocupa el firmador.
type BusyPolicy string

const (
	BusyQueue  BusyPolicy = "queue"
	BusyReject BusyPolicy = "reject"
)

func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch p := BusyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case BusyQueue, BusyReject:
		return p, nil
	case "":
		return BusyQueue, nil
	default:
		return "", fmt.Errorf("SIGNER_BUSY_POLICY inválida: %q (queue | reject)", s)
	}
}

// Exclusive deja pasar una sola llamada a la vez hacia el firmador envuelto.
// Un token físico atiende una operación por vez aunque el servicio sea concurrente.
type Exclusive struct {
	inner  eta.ExternalSigner
	policy BusyPolicy
	sem    chan struct{}
}

func NewExclusive(inner eta.ExternalSigner, policy BusyPolicy) *Exclusive {
	if policy == "" {
		policy = BusyQueue
	}
	return &Exclusive{inner: inner, policy: policy, sem: make(chan struct{}, 1)}
}

func (e *Exclusive) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	default:
	}
	if e.policy == BusyReject {
		return fmt.Errorf("%w: hay otra firma en curso", domain.ErrSignerBusy)
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return contextErr(ctx)
	}
}

func (e *Exclusive) release() { <-e.sem }

func (e *Exclusive) Certificate(ctx context.Context) ([]byte, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return e.inner.Certificate(ctx)
}

func (e *Exclusive) SignDigest(ctx context.Context, sum []byte) ([]byte, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return e.inner.SignDigest(ctx, sum)
}

// Close espera a la llamada en curso y cierra el firmador envuelto si aplica.
func (e *Exclusive) Close() error {
	e.sem <- struct{}{}
	defer e.release()
	if c, ok := e.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
