package stats

import (
	"log"
	"sync"
)

// ManageReports starts go routines to consume the message broker queue for run reports published
// by the tracker service. Two channels are opened, one for the reports and one for errors.
// Reports are logged for operational visibility; the authoritative run log lives in the store.
func (s *Stats) ManageReports() error {
	if s.mb == nil {
		return nil
	}

	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	repCh, errCh, err := s.mb.GetReports(s.network, mut)
	if err != nil {
		return err
	}

	// launch report channel reader
	go func() {
		log.Printf("[%s] Start listening to run report channel", s.network)

		for rep := range repCh {
			if rep.Success {
				log.Printf("[%s] Run report %s: addrs=%d seen=%d applied=%d skipped=%d hours=%d in %v",
					s.network, rep.Slug, rep.Addresses, rep.TxSeen, rep.TxApplied, rep.TxSkipped,
					rep.HoursTouched, rep.Took)
			} else {
				log.Printf("[%s] Run report %s: failed: %s", s.network, rep.Slug, rep.Error)
			}

			mut.Unlock()
		}

		log.Printf("[%s] Stop listening to run report channel", s.network)
	}()

	// launch error channel reader
	go func() {
		log.Printf("[%s] Start listening to err channel", s.network)

		for e := range errCh {
			log.Printf("[%s] Received error %+v", s.network, e)
		}

		log.Printf("[%s] Stop listening to err channel", s.network)
	}()

	return nil
}
