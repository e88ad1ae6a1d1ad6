/*
Package tester provides an in-memory kafka replacement for unit testing
processors, views and emitters.

A test creates a Tester, passes it to the component under test via
folka.WithTester (or the view/emitter variants) and then drives the
component by pushing messages into its input topics:

	func TestProcessor(t *testing.T) {
		tt := tester.New(t)

		proc, _ := folka.NewProcessor(nil, folka.Define("group",
			folka.Input("input", new(codec.String), handler),
			folka.Persist(new(codec.Int64)),
		), folka.WithTester(tt))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			proc.Run(ctx)
		}()

		tt.Consume("input", "key", "some-message")

		require.EqualValues(t, 12, tt.TableValue("group-table", "key"))
		cancel()
		<-done
	}

Consume blocks until the processor and everything it triggered (repartition
messages, table writes, emits) has settled, so assertions can follow
immediately.
*/
package tester
