package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// serviceRows builds per-stop rows for a line: trains trains per day over
// days days, each visiting stops stations.
func serviceRows(line string, days, trains, stops int) []*Row {
	base := date(2024, time.May, 6)
	var rows []*Row
	for day := 0; day < days; day++ {
		d := base.AddDate(0, 0, day)
		for tr := 0; tr < trains; tr++ {
			train := fmt.Sprintf("%s-%d", line, tr)
			for s := 0; s < stops; s++ {
				rows = append(rows, &Row{
					LineNumber:  line,
					TrainNumber: train,
					StationCode: fmt.Sprintf("%s-S%d", line, s),
					Date:        d,
				})
			}
		}
	}
	return rows
}

func TestFitLineServiceStats(t *testing.T) {
	rows := append(serviceRows("A", 3, 3, 2), serviceRows("B", 3, 1, 4)...)

	cfg := DefaultCleanerConfig()
	st, err := fitLineService(rows, cfg, zap.NewNop())
	require.NoError(t, err)

	a, ok := st.Lines["A"]
	require.True(t, ok)
	assert.InDelta(t, 3.0, a.MaxDailyTrains, 1e-9)
	assert.InDelta(t, 2.0, a.MeanStopsPerRun, 1e-9)

	b, ok := st.Lines["B"]
	require.True(t, ok)
	assert.InDelta(t, 1.0, b.MaxDailyTrains, 1e-9)
	assert.InDelta(t, 4.0, b.MeanStopsPerRun, 1e-9)

	assert.InDelta(t, 2.0, st.GlobalMaxDailyTrains, 1e-9)
	assert.InDelta(t, 3.0, st.GlobalMeanStopsPerRun, 1e-9)

	// two lines: one cluster each, no silhouette search
	assert.Equal(t, 2, st.K)
	assert.NotEqual(t, st.Lines["A"].Cluster, st.Lines["B"].Cluster)
}

func TestFitLineServiceSearchesK(t *testing.T) {
	var rows []*Row
	for i := 0; i < 6; i++ {
		rows = append(rows, serviceRows(fmt.Sprintf("L%d", i), 4, i+1, 3)...)
	}

	cfg := DefaultCleanerConfig()
	cfg.LineServiceMinK = 2
	cfg.LineServiceMaxK = 5
	st, err := fitLineService(rows, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, st.K, 2)
	assert.LessOrEqual(t, st.K, 5)
	assert.Len(t, st.Lines, 6)
}

func TestLineServiceAssignFallsBackToGlobals(t *testing.T) {
	rows := append(serviceRows("A", 3, 3, 2), serviceRows("B", 3, 1, 4)...)
	st, err := fitLineService(rows, DefaultCleanerConfig(), zap.NewNop())
	require.NoError(t, err)

	known := &Row{LineNumber: "A"}
	unseen := &Row{LineNumber: "ZZZ"}
	st.assign([]*Row{known, unseen})

	assert.Equal(t, st.Lines["A"].Cluster, known.LineServiceCluster)
	require.NotNil(t, known.MaxDailyTrains)
	assert.InDelta(t, 3.0, *known.MaxDailyTrains, 1e-9)

	assert.Equal(t, ClusterUnknown, unseen.LineServiceCluster)
	require.NotNil(t, unseen.MaxDailyTrains)
	assert.InDelta(t, st.GlobalMaxDailyTrains, *unseen.MaxDailyTrains, 1e-9)
	require.NotNil(t, unseen.MeanStopsPerRun)
	assert.InDelta(t, st.GlobalMeanStopsPerRun, *unseen.MeanStopsPerRun, 1e-9)
}

func TestFitLineServiceEmptyInput(t *testing.T) {
	st, err := fitLineService([]*Row{{StationCode: "X"}}, DefaultCleanerConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, st.Lines)

	// assign on the empty state still fills the fallback features
	r := &Row{LineNumber: "A"}
	st.assign([]*Row{r})
	assert.Equal(t, ClusterUnknown, r.LineServiceCluster)
}
