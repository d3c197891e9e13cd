// Package dialog implements the slot-filling dialogue state machine:
// intent detection, slot parsers, prompt selection, and the stage
// transitions from discovery through checkout.
package dialog
