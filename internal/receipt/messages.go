package receipt

import "fmt"

const (
	msgBadImage         = "⚠️ Sorry, I couldn't process that image. Please try sending it again."
	msgAlreadyProcessed = "✅ This receipt was already processed earlier. If you need to resubmit, please send a new image."
	msgDownloadFailed   = "❌ Sorry, I couldn't download that image. Please try sending it again."
	msgSaveFailed       = "❌ Sorry, I couldn't save that receipt. Please try again."
	msgReceived         = "📸 Receipt received, processing..."
	msgOCRFailed        = "⚠️ Receipt received but OCR processing failed. Please try sending a clearer image."
	msgStructureFailed  = "⚠️ Receipt processed but couldn't extract items. Please try sending a clearer image."
	msgNoItems          = "⚠️ Receipt processed but no items found. Please check the receipt image quality."
	msgUnexpected       = "❌ Sorry, something went wrong processing your receipt. Please try again later."
	msgFeedbackFollowUp = "📊 Feedback recorded!\n\nDo you have any other receipts from this shopping trip? If yes, send them now. If no, reply 'done' or 'no more'."
)

func batchReceivedMessage(total int) string {
	return fmt.Sprintf("📸 %d receipts received! Processing all receipts...\n\nI'll update you as each one completes.", total)
}

func completionMessage(b Batch, items int, store string) string {
	if store == "" {
		store = "the store"
	}
	if b.Total > 1 {
		return fmt.Sprintf("✅ Receipt %d/%d completed: Found %d items from %s.", b.Position, b.Total, items, store)
	}
	return fmt.Sprintf("✅ Receipt processed successfully! Found %d items from %s.", items, store)
}

func failureMessage(stage Stage) string {
	switch stage {
	case StageOCR:
		return msgOCRFailed
	case StageStructure:
		return msgStructureFailed
	case StageNoItems:
		return msgNoItems
	default:
		return msgUnexpected
	}
}
