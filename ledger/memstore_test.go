package ledger_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"poll-ledger-backend/ledger"
	"poll-ledger-backend/models"
)

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		store *ledger.MemoryStore
		addr  ledger.Address
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = ledger.NewMemoryStore()
		addr = ledger.NewDeriver("memstore").Poll(1)
	})

	Describe("Update", func() {
		It("stores records created in the transaction", func() {
			err := store.Update(ctx, func(tx ledger.Tx) error {
				return tx.CreateIfAbsent(addr, &models.Poll{PollID: 1, Description: "q"})
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Len()).To(Equal(1))

			var got models.Poll
			Expect(store.View(ctx, func(tx ledger.Tx) error { return tx.Load(addr, &got) })).To(Succeed())
			Expect(got.Description).To(Equal("q"))
		})

		It("writes nothing when the callback fails", func() {
			err := store.Update(ctx, func(tx ledger.Tx) error {
				Expect(tx.CreateIfAbsent(addr, &models.Poll{PollID: 1})).To(Succeed())
				return ledger.ErrAlreadyVoted
			})
			Expect(err).To(MatchError(ledger.ErrAlreadyVoted))
			Expect(store.Len()).To(Equal(0))
		})

		It("rejects a commit whose reads went stale", func() {
			Expect(store.Update(ctx, func(tx ledger.Tx) error {
				return tx.CreateIfAbsent(addr, &models.Poll{PollID: 1})
			})).To(Succeed())

			err := store.Update(ctx, func(tx ledger.Tx) error {
				var p models.Poll
				if err := tx.Load(addr, &p); err != nil {
					return err
				}
				// a competing writer commits between our read and our commit
				Expect(store.Update(ctx, func(inner ledger.Tx) error {
					var q models.Poll
					if err := inner.Load(addr, &q); err != nil {
						return err
					}
					q.TotalVotes = 10
					return inner.Save(addr, &q)
				})).To(Succeed())

				p.TotalVotes = 1
				return tx.Save(addr, &p)
			})
			Expect(err).To(MatchError(ledger.ErrConflict))

			var got models.Poll
			Expect(store.View(ctx, func(tx ledger.Tx) error { return tx.Load(addr, &got) })).To(Succeed())
			Expect(got.TotalVotes).To(Equal(uint64(10)))
		})

		It("honours a cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			err := store.Update(cancelled, func(tx ledger.Tx) error { return nil })
			Expect(err).To(MatchError(context.Canceled))
		})
	})

	Describe("View", func() {
		It("refuses writes", func() {
			err := store.View(ctx, func(tx ledger.Tx) error {
				_, err := tx.GetOrCreate(addr, &models.VoterRecord{})
				return err
			})
			Expect(err).To(MatchError(ledger.ErrReadOnly))
		})
	})
})
