/*Package stream implements double-buffered frame streaming from a camera,
or anything else that produces 2D uint16 frames, to a per-frame consumer.

A session owns a Ring of N frame buffers and runs two goroutines:

 - the fill side writes frame k into slot k mod N and then publishes
   frames_filled = k+1.  It is either a Producer driven by the filler loop
   (synthetic sources, polled cameras) or a HardwareSource that DMA's into
   the slots on its own and is watched for new frames.
 - the drainer observes frames_filled and hands every new frame, oldest
   first, to the Consumer, then advances frames_processed.

The fill side is never blocked by the drainer.  If the consumer is slow
enough that N or more frames pile up, the drainer reports an overflow and
skips the lost frames instead of reading slots that were overwritten.

Usage:

	var s stream.Streamer
	err := s.Start(stream.Config{
		Buffers:  8,
		Width:    512,
		Height:   512,
		Producer: src,
		Interval: 5 * time.Millisecond,
	}, func(f stream.Frame) error {
		// f.Pix is only valid until this returns
		return nil
	})
	...
	err = s.Stop()

*/
package stream
