package model

// ToastKind selects how a toast is presented.
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
	ToastInfo    ToastKind = "info"
)

// Toast is an ephemeral user notification.
type Toast struct {
	ID      uint64
	Message string
	Kind    ToastKind
}
