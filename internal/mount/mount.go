// Package mount prepares the on-device developer support image the debug
// server depends on.
package mount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"howett.net/plist"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/extract"
	"github.com/vburojevic/jitctl/internal/race"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

const (
	MounterHelperName = "mounter"
	InfoHelperName    = "info"

	DefaultTimeout     = 60 * time.Second
	DefaultInfoTimeout = 10 * time.Second
)

// lowestSupportedVersion is the first iOS release with tunnel based
// developer services.
var lowestSupportedVersion = semver.MustParse("17.0")

// Outcome is the result of a successful Prepare.
type Outcome string

const (
	OutcomeMounted        Outcome = "mounted"
	OutcomeAlreadyMounted Outcome = "already_mounted"
)

// DeviceInfo is the subset of the device's lockdown values the probe reads.
type DeviceInfo struct {
	DeviceName     string `plist:"DeviceName" json:"deviceName"`
	ProductType    string `plist:"ProductType" json:"productType"`
	ProductVersion string `plist:"ProductVersion" json:"productVersion"`
	UniqueDeviceID string `plist:"UniqueDeviceID" json:"udid"`
}

// Preparer mounts the support image.
type Preparer struct {
	Spawner subprocess.Spawner
	// Mounter is the mount helper template; {udid} is replaced.
	Mounter subprocess.Spec
	// Info is the optional device info helper, expected to print the
	// device's values as an XML plist. An empty Path disables the probe.
	Info        subprocess.Spec
	Timeout     time.Duration
	InfoTimeout time.Duration
	Clock       clock.Clock
	Log         *zap.Logger
}

// Prepare makes sure the support image is mounted on deviceID. Running it
// when the image is already active is not an error.
func (p *Preparer) Prepare(ctx context.Context, deviceID string) (Outcome, error) {
	log := p.log()
	if p.Info.Path != "" {
		info, err := p.Probe(ctx, deviceID)
		if err != nil {
			return "", err
		}
		log.Debug("device info", zap.String("name", info.DeviceName), zap.String("version", info.ProductVersion))
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	spec := p.Mounter.Expand(map[string]string{"udid": deviceID})
	spec.Name = MounterHelperName
	sess, err := p.Spawner.Spawn(ctx, spec)
	if err != nil {
		return "", subprocess.StepError(nil, timeout, err)
	}
	defer sess.Terminate()

	outcome, err := race.WithDeadline(ctx, p.Clock, timeout, func(ctx context.Context) (Outcome, error) {
		code, out, err := subprocess.Finish(ctx, sess)
		if err != nil {
			return "", err
		}
		// the mounter may exit non-zero for an image that is already active
		if strings.Contains(strings.ToLower(out), extract.AlreadyMountedMarker) {
			return OutcomeAlreadyMounted, nil
		}
		if code == 0 {
			return OutcomeMounted, nil
		}
		return "", extract.Failure(out, code, domain.KindProcessFailure)
	})
	if err != nil {
		return "", subprocess.StepError(sess, timeout, err)
	}
	log.Info("support image ready", zap.String("device", deviceID), zap.String("outcome", string(outcome)))
	return outcome, nil
}

// Probe reads the device's values through the info helper and rejects
// devices older than iOS 17.
func (p *Preparer) Probe(ctx context.Context, deviceID string) (DeviceInfo, error) {
	timeout := p.InfoTimeout
	if timeout <= 0 {
		timeout = DefaultInfoTimeout
	}
	spec := p.Info.Expand(map[string]string{"udid": deviceID})
	spec.Name = InfoHelperName
	sess, err := p.Spawner.Spawn(ctx, spec)
	if err != nil {
		return DeviceInfo{}, subprocess.StepError(nil, timeout, err)
	}
	defer sess.Terminate()

	info, err := race.WithDeadline(ctx, p.Clock, timeout, func(ctx context.Context) (DeviceInfo, error) {
		code, out, err := subprocess.Finish(ctx, sess)
		if err != nil {
			return DeviceInfo{}, err
		}
		if code != 0 {
			return DeviceInfo{}, extract.Failure(out, code, domain.KindProcessFailure)
		}
		return decodeInfo(out)
	})
	if err != nil {
		return DeviceInfo{}, subprocess.StepError(sess, timeout, err)
	}
	if err := checkVersion(info.ProductVersion); err != nil {
		return info, err
	}
	return info, nil
}

func decodeInfo(out string) (DeviceInfo, error) {
	var info DeviceInfo
	start := strings.Index(out, "<?xml")
	if start < 0 {
		start = 0
	}
	if _, err := plist.Unmarshal([]byte(out[start:]), &info); err != nil {
		return DeviceInfo{}, &domain.Error{
			Kind:       domain.KindUnexpectedOutput,
			Detail:     "device info is not a property list",
			Transcript: out,
			Err:        err,
		}
	}
	if info.ProductVersion == "" {
		return DeviceInfo{}, &domain.Error{
			Kind:       domain.KindUnexpectedOutput,
			Detail:     "device info has no ProductVersion",
			Transcript: out,
		}
	}
	return info, nil
}

func checkVersion(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return &domain.Error{
			Kind:   domain.KindUnexpectedOutput,
			Detail: fmt.Sprintf("could not parse iOS version %q", raw),
			Err:    err,
		}
	}
	if v.LessThan(lowestSupportedVersion) {
		return &domain.Error{
			Kind:   domain.KindUnsupportedVersion,
			Detail: fmt.Sprintf("device runs iOS %s, need %s or later", raw, lowestSupportedVersion),
		}
	}
	return nil
}

func (p *Preparer) log() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}
