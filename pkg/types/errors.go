package types

import "tradecore/pkg/coreerr"

func newDataError(msg string) error {
	return coreerr.New(coreerr.ClassData, msg)
}
