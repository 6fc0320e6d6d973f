/*
Package comm provides rank-addressed message passing among a fixed set of
cooperating processes.

A run consists of P processes, each identified by a rank 0 <= rank < P within
a Communicator.  Something outside this package launches the processes and
tells each one its rank and the size of the world; comm only connects them.
Every operation takes the Communicator explicitly.  There is no ambient
"world" communicator.

Point-to-point messaging comes in two disciplines.  Send and Recv block: Send
returns once the payload has been handed to the transport and Recv returns
once a whole matching message has arrived.  SendAsync and RecvAsync return a
*Request immediately; Wait and WaitAll block until the requests complete.
Messages between the same (source, destination, tag) are delivered in the
order they were sent.  Nothing is promised across different tags.

Beware of symmetric exchanges.  If two ranks each issue a blocking Send to
the other before either posts a Recv, and the transport does not buffer, both
wait forever.  Either order the calls asymmetrically (one side sends first,
the other receives first, as Exchange does) or post non-blocking operations on
both sides and then WaitAll.

Collectives (Broadcast, Reduce, Gather, Scatter, Allreduce, Barrier) involve
every rank of the Communicator.  Every rank must call every collective the
same number of times and in the same order.  A rank that skips one stalls the
others indefinitely; comm does not detect this.  No rank returns from a
collective before every rank has entered it.

Reduce folds values in ascending rank order, so a combine function that is
associative but not commutative still produces a well-defined result.

None of the blocking calls time out.  Callers that need a deadline have to
build one around the call.
*/
package comm
