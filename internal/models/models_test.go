package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateTag(t *testing.T) {
	if err := ValidateTag("recovery:abandoned"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateTag(""); !errors.Is(err, ErrEmptyTag) {
		t.Errorf("expected ErrEmptyTag, got %v", err)
	}
	if err := ValidateTag("   "); !errors.Is(err, ErrEmptyTag) {
		t.Errorf("expected ErrEmptyTag for whitespace, got %v", err)
	}
	if err := ValidateTag(strings.Repeat("x", MaxTagLength+1)); !errors.Is(err, ErrTagTooLong) {
		t.Errorf("expected ErrTagTooLong, got %v", err)
	}
}

func TestChannelAndStatusValidation(t *testing.T) {
	for _, c := range []SequenceChannel{ChannelEmail, ChannelSMS, ChannelChat} {
		if !IsValidSequenceChannel(c) {
			t.Errorf("%s should be valid", c)
		}
	}
	if IsValidSequenceChannel("pigeon") {
		t.Error("pigeon is not a supported channel")
	}
	if !IsValidEnrollmentStatus(EnrollmentStatusActive) || !IsValidEnrollmentStatus(EnrollmentStatusExited) {
		t.Error("active and exited must be valid statuses")
	}
	if IsValidEnrollmentStatus("paused") {
		t.Error("paused is not a valid status")
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	ok := Success(map[string]int{"n": 1})
	if ok.Status != string(APIStatusOK) || ok.Result == nil || ok.Message != "" {
		t.Errorf("unexpected success response: %+v", ok)
	}

	withMsg := SuccessWithMessage("done", nil)
	if withMsg.Status != string(APIStatusOK) || withMsg.Message != "done" {
		t.Errorf("unexpected response: %+v", withMsg)
	}

	errResp := Error("boom")
	if errResp.Status != string(APIStatusError) || errResp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", errResp)
	}
}

func TestNewRunReport(t *testing.T) {
	now := time.Now().UTC()
	report := NewRunReport(now)
	if report.Conditions == nil || report.Exits == nil {
		t.Error("maps must be initialized")
	}
	if !report.Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, report.Timestamp)
	}
	if report.Success {
		t.Error("fresh report must not claim success")
	}
}
