package interfaces

import "context"

// Service interface defines the methods that every interface exposed by the
// daemon must be compliant with.
type Service interface {
	Start() error
	Stop(ctx context.Context) error
}
