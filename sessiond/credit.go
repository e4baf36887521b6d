// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"math"

	"github.com/omec-project/sessiond/logger"
	"github.com/omec-project/sessiond/pkg/utils"
)

// CreditUnit is one dimension of a controller grant.
type CreditUnit struct {
	IsValid bool   `json:"is_valid"`
	Volume  uint64 `json:"volume"`
}

// GrantedUnits is the volume grant carried by a charging or monitoring
// credit from the controller.
type GrantedUnits struct {
	Total CreditUnit `json:"total"`
	Tx    CreditUnit `json:"tx"`
	Rx    CreditUnit `json:"rx"`
}

// Usage is a tx/rx byte pair reported upstream.
type Usage struct {
	BytesTx uint64
	BytesRx uint64
}

// SessionCredit is the counter bundle backing one charging grant or usage
// monitor. All bucket math is centralized here; callers only see the
// high-level mutators so the counter invariants cannot be bypassed.
type SessionCredit struct {
	buckets              [maxBuckets]uint64
	reporting            bool
	creditLimitType      CreditLimitType
	grantTrackingType    GrantTrackingType
	receivedGrantedUnits GrantedUnits
}

func NewSessionCredit(limitType CreditLimitType) *SessionCredit {
	return &SessionCredit{
		creditLimitType:   limitType,
		grantTrackingType: TrackingUnset,
	}
}

func newSessionCreditFromStored(stored StoredSessionCredit) *SessionCredit {
	c := &SessionCredit{
		reporting:            stored.Reporting,
		creditLimitType:      stored.CreditLimitType,
		grantTrackingType:    stored.GrantTrackingType,
		receivedGrantedUnits: stored.ReceivedGrantedUnits,
	}

	for bucket, value := range stored.Buckets {
		if bucket >= 0 && bucket < maxBuckets {
			c.buckets[bucket] = value
		}
	}

	return c
}

func (c *SessionCredit) marshal() StoredSessionCredit {
	stored := StoredSessionCredit{
		Reporting:            c.reporting,
		CreditLimitType:      c.creditLimitType,
		GrantTrackingType:    c.grantTrackingType,
		ReceivedGrantedUnits: c.receivedGrantedUnits,
		Buckets:              make(map[Bucket]uint64),
	}

	for bucket := Bucket(0); bucket < maxBuckets; bucket++ {
		stored.Buckets[bucket] = c.buckets[bucket]
	}

	return stored
}

// GetCredit returns the current value of one bucket.
func (c *SessionCredit) GetCredit(bucket Bucket) uint64 {
	return c.buckets[bucket]
}

// IsReporting reports whether a reporting cycle is currently in flight.
// At most one cycle may be open per credit.
func (c *SessionCredit) IsReporting() bool {
	return c.reporting
}

// GrantTracking returns the tracking discipline of the current grant.
func (c *SessionCredit) GrantTracking() GrantTrackingType {
	return c.grantTrackingType
}

// AddUsed accumulates traffic counted by the downstream pipeline.
func (c *SessionCredit) AddUsed(bytesTx, bytesRx uint64, uc *CreditUpdateCriteria) {
	c.addToBucket(UsedTx, bytesTx, uc)
	c.addToBucket(UsedRx, bytesRx, uc)
}

// ReceiveCredit applies a fresh grant from the controller. Any in-flight
// reporting cycle is acknowledged: REPORTING moves into REPORTED.
func (c *SessionCredit) ReceiveCredit(gsu GrantedUnits, uc *CreditUpdateCriteria) {
	c.grantTrackingType = determineGrantTrackingType(gsu)
	c.receivedGrantedUnits = gsu

	// Mark the floor at the pre-grant ALLOWED values so the size of the
	// current grant stays recoverable.
	c.setFloor(AllowedFloorTotal, AllowedTotal, uc)
	c.setFloor(AllowedFloorTx, AllowedTx, uc)
	c.setFloor(AllowedFloorRx, AllowedRx, uc)

	if gsu.Total.IsValid {
		c.addToBucket(AllowedTotal, gsu.Total.Volume, uc)
	}

	if gsu.Tx.IsValid {
		c.addToBucket(AllowedTx, gsu.Tx.Volume, uc)
	}

	if gsu.Rx.IsValid {
		c.addToBucket(AllowedRx, gsu.Rx.Volume, uc)
	}

	// The controller acknowledged whatever was in flight.
	c.addToBucket(ReportedTx, c.buckets[ReportingTx], uc)
	c.addToBucket(ReportedRx, c.buckets[ReportingRx], uc)
	c.buckets[ReportingTx] = 0
	c.buckets[ReportingRx] = 0
	c.reporting = false

	if uc != nil {
		uc.GrantTrackingType = c.grantTrackingType
		uc.ReceivedGrantedUnits = c.receivedGrantedUnits
		uc.Reporting = false
	}

	logger.SessLog.With(
		"tracking", c.grantTrackingType.String(),
		"total", gsu.Total.Volume,
		"tx", gsu.Tx.Volume,
		"rx", gsu.Rx.Volume,
	).Debugln("received new grant")
}

// MarkFailure rolls back the in-flight reporting cycle after the controller
// rejected or failed an update. The usage stays in USED and is retried.
func (c *SessionCredit) MarkFailure(resultCode uint32, uc *CreditUpdateCriteria) {
	if resultCode != 0 {
		logger.SessLog.With("result_code", resultCode).Debugln("update failed with controller result code")
	}

	c.ResetReporting(uc)
}

// ResetReporting clears the REPORTING buckets and closes the cycle.
func (c *SessionCredit) ResetReporting(uc *CreditUpdateCriteria) {
	c.buckets[ReportingTx] = 0
	c.buckets[ReportingRx] = 0
	c.reporting = false

	if uc != nil {
		uc.Reporting = false
	}
}

// IsQuotaExhausted reports whether any participating dimension has consumed
// at least thresholdRatio of its current grant. A ratio of 1.0 means truly
// exhausted.
func (c *SessionCredit) IsQuotaExhausted(thresholdRatio float64) bool {
	if c.creditLimitType != CreditFinite {
		return false
	}

	totalUsed := c.buckets[UsedTx] + c.buckets[UsedRx]

	switch c.grantTrackingType {
	case TrackingAllTotalTxRx:
		return c.computeQuotaExhausted(c.buckets[AllowedTotal], totalUsed, c.buckets[AllowedFloorTotal], thresholdRatio) ||
			c.computeQuotaExhausted(c.buckets[AllowedTx], c.buckets[UsedTx], c.buckets[AllowedFloorTx], thresholdRatio) ||
			c.computeQuotaExhausted(c.buckets[AllowedRx], c.buckets[UsedRx], c.buckets[AllowedFloorRx], thresholdRatio)
	case TrackingTotalOnly:
		return c.computeQuotaExhausted(c.buckets[AllowedTotal], totalUsed, c.buckets[AllowedFloorTotal], thresholdRatio)
	case TrackingTxOnly:
		return c.computeQuotaExhausted(c.buckets[AllowedTx], c.buckets[UsedTx], c.buckets[AllowedFloorTx], thresholdRatio)
	case TrackingRxOnly:
		return c.computeQuotaExhausted(c.buckets[AllowedRx], c.buckets[UsedRx], c.buckets[AllowedFloorRx], thresholdRatio)
	case TrackingTxAndRx:
		return c.computeQuotaExhausted(c.buckets[AllowedTx], c.buckets[UsedTx], c.buckets[AllowedFloorTx], thresholdRatio) ||
			c.computeQuotaExhausted(c.buckets[AllowedRx], c.buckets[UsedRx], c.buckets[AllowedFloorRx], thresholdRatio)
	default:
		return false
	}
}

// computeQuotaExhausted checks one dimension: usage within the current grant
// against thresholdRatio of the grant's size. A zero-size grant only counts
// as exhausted once usage reaches ALLOWED exactly, so empty acks never cause
// report loops.
func (c *SessionCredit) computeQuotaExhausted(allowed, used, grantFloor uint64, thresholdRatio float64) bool {
	if used >= allowed {
		return true
	}

	if allowed <= grantFloor {
		return false
	}

	currentGrant := allowed - grantFloor
	usedOfGrant := utils.SaturatingSub(used, grantFloor)

	// Rounding up keeps at least the complement of the ratio unconsumed when
	// the grant does not divide evenly: 799 of a 999 grant stays below a 0.8
	// threshold, 800 trips it.
	threshold := uint64(math.Ceil(thresholdRatio * float64(currentGrant)))
	if threshold == 0 {
		threshold = 1
	}

	return usedOfGrant >= threshold
}

// CurrentGrantContainsZero reports whether the most recent grant carried
// zero volume on every tracked dimension.
func (c *SessionCredit) CurrentGrantContainsZero() bool {
	switch c.grantTrackingType {
	case TrackingAllTotalTxRx:
		return c.buckets[AllowedTotal] == c.buckets[AllowedFloorTotal] &&
			c.buckets[AllowedTx] == c.buckets[AllowedFloorTx] &&
			c.buckets[AllowedRx] == c.buckets[AllowedFloorRx]
	case TrackingTotalOnly:
		return c.buckets[AllowedTotal] == c.buckets[AllowedFloorTotal]
	case TrackingTxOnly:
		return c.buckets[AllowedTx] == c.buckets[AllowedFloorTx]
	case TrackingRxOnly:
		return c.buckets[AllowedRx] == c.buckets[AllowedFloorRx]
	case TrackingTxAndRx:
		return c.buckets[AllowedTx] == c.buckets[AllowedFloorTx] &&
			c.buckets[AllowedRx] == c.buckets[AllowedFloorRx]
	default:
		return true
	}
}

// GetUsageForReporting opens a reporting cycle: the unreported delta moves
// into REPORTING and is returned. The REPORTING buckets are transient and
// intentionally absent from the update criteria.
func (c *SessionCredit) GetUsageForReporting(uc *CreditUpdateCriteria) Usage {
	usage := c.unreportedUsage()

	c.buckets[ReportingTx] += usage.BytesTx
	c.buckets[ReportingRx] += usage.BytesRx
	c.reporting = true

	if uc != nil {
		uc.Reporting = true
	}

	return usage
}

// GetAllUnreportedUsageForReporting is the terminate-time variant: it hands
// back everything not yet acknowledged, regardless of an open cycle.
func (c *SessionCredit) GetAllUnreportedUsageForReporting(uc *CreditUpdateCriteria) Usage {
	usage := c.unreportedUsage()

	c.buckets[ReportingTx] += usage.BytesTx
	c.buckets[ReportingRx] += usage.BytesRx
	c.reporting = true

	if uc != nil {
		uc.Reporting = true
	}

	return usage
}

func (c *SessionCredit) unreportedUsage() Usage {
	return Usage{
		BytesTx: utils.SaturatingSub(c.buckets[UsedTx], c.buckets[ReportingTx]+c.buckets[ReportedTx]),
		BytesRx: utils.SaturatingSub(c.buckets[UsedRx], c.buckets[ReportingRx]+c.buckets[ReportedRx]),
	}
}

func (c *SessionCredit) addToBucket(bucket Bucket, delta uint64, uc *CreditUpdateCriteria) {
	if delta == 0 {
		return
	}

	c.buckets[bucket] = utils.SaturatingAdd(c.buckets[bucket], delta)

	if uc != nil {
		uc.BucketDeltas[bucket] += delta
	}
}

func (c *SessionCredit) setFloor(floor, allowed Bucket, uc *CreditUpdateCriteria) {
	delta := utils.SaturatingSub(c.buckets[allowed], c.buckets[floor])
	c.addToBucket(floor, delta, uc)
}

func determineGrantTrackingType(gsu GrantedUnits) GrantTrackingType {
	totalValid := gsu.Total.IsValid
	txValid := gsu.Tx.IsValid
	rxValid := gsu.Rx.IsValid

	switch {
	case totalValid && txValid && rxValid:
		return TrackingAllTotalTxRx
	case txValid && rxValid:
		return TrackingTxAndRx
	case txValid:
		return TrackingTxOnly
	case rxValid:
		return TrackingRxOnly
	case totalValid:
		return TrackingTotalOnly
	default:
		return TrackingUnset
	}
}
