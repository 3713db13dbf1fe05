// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auditdb

import (
	"math"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/horizon/audit"
)

func TestRecordPreservesEntries(t *testing.T) {
	require := require.New(t)

	db := New(memdb.New())
	r := audit.NewRecorder(db)

	now := time.Unix(1_700_000_000, 123).UTC()
	voter := ids.GenerateTestNodeID()
	// 0.1 + 0.2 is not 0.3; the stored bits must survive unchanged.
	value := 0.1 + 0.2
	inputs := []audit.Entry{
		{Kind: audit.VoteRecorded, RoundID: 1, Participant: voter, Time: now, Value: math.Exp(-2) * 0.81},
		{Kind: audit.OutlierFlagged, RoundID: 1, Participant: voter, Time: now, Value: value, Detail: "distance 4.2"},
		{Kind: audit.RoundFinalized, RoundID: 1, Time: now, Value: 0.7, Detail: "committed"},
	}
	for _, e := range inputs {
		_, err := r.Record(e)
		require.NoError(err)
	}

	got, err := db.Entries()
	require.NoError(err)
	require.Len(got, len(inputs))
	for i, e := range got {
		want := inputs[i]
		want.Seq = uint64(i + 1)
		require.Equal(want, e)
	}

	e, err := db.Get(2)
	require.NoError(err)
	require.Equal(math.Float64bits(value), math.Float64bits(e.Value))

	_, err = db.Get(9)
	require.ErrorIs(err, database.ErrNotFound)
}
