package capture

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/soocke/qrdial-go/failure"
)

var (
	permissionKeywords = []string{
		"permission denied",
		"not permitted",
		"not authorized",
		"unauthorized",
		"access denied",
		"eacces",
	}
	notFoundKeywords = []string{
		"no such file",
		"no such device",
		"not found",
		"cannot identify device",
		"does not exist",
		"enoent",
		"enodev",
	}
)

// Classify maps an acquisition error onto the device failure kinds. Errors
// that already carry a kind keep it.
func Classify(err error) failure.Kind {
	if err == nil {
		return ""
	}
	if k := failure.KindOf(err); k != "" {
		return k
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return failure.PermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return failure.DeviceNotFound
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, permissionKeywords) {
		return failure.PermissionDenied
	}
	if containsAny(msg, notFoundKeywords) {
		return failure.DeviceNotFound
	}
	return failure.DeviceOtherFailure
}

// acquireError wraps err as a classified device failure.
func acquireError(err error) error {
	if err == nil {
		return nil
	}
	if failure.KindOf(err) != "" {
		return err
	}
	return failure.New(Classify(err), err)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
