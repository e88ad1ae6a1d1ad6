package folka

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-stack/stack"
)

var (
	errBuildConsumer = "error creating Kafka consumer: %v"
	errBuildProducer = "error creating Kafka producer: %v"
	errApplyOptions  = "error applying options: %v"
	errTopicNotFound = errors.New("requested topic was not found")
)

// matches the root package path plus an optional module version suffix, but
// not subpackages. Used to drop library frames from user stack traces.
var folkaPackageRegex = regexp.MustCompile(fmt.Sprintf(`%s(?:@[^/]+)?/[^/]+$`, reflect.TypeOf(Processor{}).PkgPath()))

// errProcessing indicates that some non-transient error occurred while
// processing a message, e.g. a panic, an encoding error or invalid usage of
// the context.
type errProcessing struct {
	partition int32
	err       error
}

func newErrProcessing(partition int32, err error) error {
	return &errProcessing{
		partition: partition,
		err:       err,
	}
}

func (ec *errProcessing) Error() string {
	return fmt.Sprintf("error processing message (partition=%d): %v", ec.partition, ec.err)
}

func (ec *errProcessing) Unwrap() error {
	return ec.err
}

// errSetup indicates that some non-transient error occurred while setting up
// the partitions on rebalance.
type errSetup struct {
	partition int32
	err       error
}

func newErrSetup(partition int32, err error) error {
	return &errSetup{
		partition: partition,
		err:       err,
	}
}

func (ec *errSetup) Error() string {
	return fmt.Sprintf("error setting up (partition=%d): %v", ec.partition, ec.err)
}

func (ec *errSetup) Unwrap() error {
	return ec.err
}

// userStacktrace returns a formatted stack trace containing only the frames of
// user code. It is used to format the error built after a panic in a processor
// callback.
func userStacktrace() []string {
	trace := stack.Trace()

	// pop frames from the top that come from the runtime or from this package
	for len(trace) > 0 {
		if strings.HasPrefix(fmt.Sprintf("%+s", trace[0]), "runtime/") {
			trace = trace[1:]
			continue
		}
		if folkaPackageRegex.MatchString(fmt.Sprintf("%+s", trace[0])) {
			trace = trace[1:]
			continue
		}
		break
	}

	var lines []string
	for _, frame := range trace {
		// once we hit this package again, only library and runtime frames follow
		if folkaPackageRegex.MatchString(fmt.Sprintf("%+s", frame)) {
			break
		}
		lines = append(lines, fmt.Sprintf("%n\n\t%+s:%d", frame, frame, frame))
	}

	// nothing left after filtering means the panic originated here, return the
	// whole trace instead
	if len(lines) == 0 {
		for _, frame := range stack.Trace() {
			lines = append(lines, fmt.Sprintf("%n\n\t%+s:%d", frame, frame, frame))
		}
	}

	return lines
}
