package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor is the number of goroutines GroupWorkParallel spreads work over.
var ParallelFactor = max(1, runtime.GOMAXPROCS(0))

type (
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel splits totalSize work items into contiguous groups and runs each
// group on its own goroutine. The last group absorbs the remainder. A panic in any
// group is recovered and returned as an error once every group has finished.
func GroupWorkParallel(ctx context.Context, totalSize int, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return nil
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := totalSize / numGroups
	extra := totalSize - groupSize*numGroups

	var (
		wait    sync.WaitGroup
		errMu   sync.Mutex
		combErr error
	)
	wait.Add(numGroups)
	for groupNum := range numGroups {
		from := groupSize * groupNum
		to := from + groupSize
		if groupNum == numGroups-1 {
			to += extra
		}
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			defer func() {
				if thePanic := recover(); thePanic != nil {
					errMu.Lock()
					combErr = multierr.Combine(combErr, fmt.Errorf("got panic running group work: %v", thePanic))
					errMu.Unlock()
				}
			}()
			memberWork, groupWorkDone := groupWork(groupNum, to-from, from, to)
			for workNum := from; memberWork != nil && workNum < to; workNum++ {
				if ctx.Err() != nil {
					return
				}
				memberWork(workNum-from, workNum)
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
		})
	}
	wait.Wait()
	if combErr != nil {
		return combErr
	}
	return errors.Wrap(ctx.Err(), "group work interrupted")
}

// ParallelForEachRow calls f once for every row index in [0, height), spreading
// contiguous bands of rows across ParallelFactor goroutines. f must only write
// state owned by its row.
func ParallelForEachRow(ctx context.Context, height int, f func(y int)) error {
	return GroupWorkParallel(ctx, height, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(memberNum, workNum int) {
			f(workNum)
		}, nil
	})
}
