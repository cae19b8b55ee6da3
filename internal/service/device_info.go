package service

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/device-delivery-service/internal/domain/model"
	"github.com/webitel/device-delivery-service/internal/store"
)

// Resolver exposes the device-registry read facade. Every lookup carries
// the documented default-on-absence semantics: zero position, all-zero
// keys, empty attribute list. Absence is data here, never an error.
type Resolver interface {
	LookupPosition(ctx context.Context, sess *Session, dev model.DeviceID) (model.Position, error)
	LookupKeys(ctx context.Context, sess *Session, dev model.DeviceID) (model.DeviceKeys, error)
	LookupAttr(ctx context.Context, sess *Session, dev model.DeviceID, name string) ([]model.Attribute, error)
	Snapshot(ctx context.Context, sess *Session, dev model.DeviceID) (DeviceSnapshot, error)
}

// DeviceSnapshot bundles the transport-relevant device state fetched in
// one round.
type DeviceSnapshot struct {
	Position model.Position
	Keys     model.DeviceKeys
}

// DeviceInfoService implements Resolver on the device store, with a small
// LRU over the key pairs: keys are stable credentials consulted on every
// device handshake, while positions are volatile and always read through.
type DeviceInfoService struct {
	devices store.DeviceStore
	keys    *lru.Cache[string, model.DeviceKeys]
}

var _ Resolver = (*DeviceInfoService)(nil)

func NewDeviceInfoService(devices store.DeviceStore, cacheSize int) (*DeviceInfoService, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	keys, err := lru.New[string, model.DeviceKeys](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("device info: %w", err)
	}
	return &DeviceInfoService{devices: devices, keys: keys}, nil
}

func (s *DeviceInfoService) LookupPosition(_ context.Context, sess *Session, dev model.DeviceID) (model.Position, error) {
	acct, err := sess.Account()
	if err != nil {
		return model.Position{}, err
	}
	return s.devices.LookupPosition(acct, dev), nil
}

func (s *DeviceInfoService) LookupKeys(_ context.Context, sess *Session, dev model.DeviceID) (model.DeviceKeys, error) {
	acct, err := sess.Account()
	if err != nil {
		return model.DeviceKeys{}, err
	}
	return s.lookupKeys(acct, dev), nil
}

func (s *DeviceInfoService) lookupKeys(acct model.AccountID, dev model.DeviceID) model.DeviceKeys {
	cacheKey := string(acct) + "|" + string(dev)
	if keys, ok := s.keys.Get(cacheKey); ok {
		return keys
	}
	keys := s.devices.LookupKeys(acct, dev)
	// All-zero keys mean "not provisioned yet"; caching that would hide
	// the device's real keys once provisioning lands.
	if keys != (model.DeviceKeys{}) {
		s.keys.Add(cacheKey, keys)
	}
	return keys
}

func (s *DeviceInfoService) LookupAttr(_ context.Context, sess *Session, dev model.DeviceID, name string) ([]model.Attribute, error) {
	acct, err := sess.Account()
	if err != nil {
		return nil, err
	}
	return s.devices.LookupAttr(acct, dev, name), nil
}

// Snapshot fetches position and keys concurrently and waits for both.
func (s *DeviceInfoService) Snapshot(ctx context.Context, sess *Session, dev model.DeviceID) (DeviceSnapshot, error) {
	acct, err := sess.Account()
	if err != nil {
		return DeviceSnapshot{}, err
	}

	var snap DeviceSnapshot
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		snap.Position = s.devices.LookupPosition(acct, dev)
		return nil
	})
	g.Go(func() error {
		snap.Keys = s.lookupKeys(acct, dev)
		return nil
	})

	if err := g.Wait(); err != nil {
		return DeviceSnapshot{}, err
	}
	return snap, nil
}
