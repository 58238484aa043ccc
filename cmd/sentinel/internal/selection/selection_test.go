// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package selection

import (
	"testing"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var registry = []models.Server{
	{ID: "web", Name: "prod-nginx-01", Host: "10.0.0.1"},
	{ID: "db", Name: "postgres-primary", Host: "10.0.0.2"},
	{ID: "gw", Name: "gateway", Host: "ussd-gw.internal"},
}

func TestClassifier(t *testing.T) {
	c := NewClassifier(nil)
	assert.True(t, c.LogBearing(registry[0]))
	assert.False(t, c.LogBearing(registry[1]))
	assert.True(t, c.LogBearing(registry[2]), "host match")

	custom := NewClassifier([]string{" POSTGRES ", ""})
	assert.True(t, custom.LogBearing(registry[1]))
	assert.False(t, custom.LogBearing(registry[0]))
}

func TestSelect_BumpsEpochOnChangeOnly(t *testing.T) {
	s := New(NewClassifier(nil))
	assert.Equal(t, uint64(0), s.Current().Epoch)
	assert.False(t, s.Current().Selected())

	st, changed := s.Select("web", registry)
	require.True(t, changed)
	assert.Equal(t, uint64(1), st.Epoch)
	assert.True(t, st.LogBearing)
	require.NotNil(t, st.Server)
	assert.Equal(t, "prod-nginx-01", st.Server.Name)

	_, changed = s.Select("web", registry)
	assert.False(t, changed)
	assert.Equal(t, uint64(1), s.Current().Epoch)

	st, changed = s.Select("db", registry)
	assert.True(t, changed)
	assert.False(t, st.LogBearing)
	assert.Equal(t, uint64(2), st.Epoch)
}

func TestIsCurrent_RejectsABASwitch(t *testing.T) {
	s := New(NewClassifier(nil))
	first, _ := s.Select("web", registry)
	tag := first.Tag()
	assert.True(t, s.IsCurrent(tag))

	s.Select("db", registry)
	assert.False(t, s.IsCurrent(tag))

	s.Select("web", registry)
	assert.False(t, s.IsCurrent(tag), "same id, newer epoch")
	assert.True(t, s.IsCurrent(s.Current().Tag()))
}

func TestSelect_BeforeRegistryLoads(t *testing.T) {
	s := New(NewClassifier(nil))
	st, changed := s.Select("web", nil)
	require.True(t, changed)
	assert.Nil(t, st.Server)
	assert.False(t, st.LogBearing)

	st, changed = s.Reconcile(registry)
	assert.True(t, changed, "classification changed once the registry arrived")
	assert.True(t, st.LogBearing)
	assert.Equal(t, "web", st.ServerID)
}

func TestReconcile_SelectedServerDisappears(t *testing.T) {
	s := New(NewClassifier(nil))
	before, _ := s.Select("db", registry)

	st, changed := s.Reconcile(registry[:1])
	assert.True(t, changed)
	assert.Equal(t, "", st.ServerID)
	assert.Nil(t, st.Server)
	assert.Greater(t, st.Epoch, before.Epoch)
}

func TestReconcile_UpdatesCachedCopyWithoutInvalidating(t *testing.T) {
	s := New(NewClassifier(nil))
	before, _ := s.Select("db", registry)

	updated := []models.Server{{ID: "db", Name: "postgres-primary", Health: models.HealthFail}}
	st, changed := s.Reconcile(updated)
	assert.False(t, changed)
	assert.True(t, s.IsCurrent(before.Tag()))
	assert.Equal(t, models.HealthFail, st.Server.Health)
}

func TestReconcile_NoSelectionIsNoop(t *testing.T) {
	s := New(NewClassifier(nil))
	_, changed := s.Reconcile(registry)
	assert.False(t, changed)
}
